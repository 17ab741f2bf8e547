package cst

import "context"

// Adapter parses one language's source text into the neutral tree. Adapters
// wrap their grammar entirely; a returned tree contains no parser-specific
// state. Parse wraps ErrParse when the grammar rejects the input.
type Adapter interface {
	Language() string
	Parse(ctx context.Context, source []byte) (*Node, error)
}
