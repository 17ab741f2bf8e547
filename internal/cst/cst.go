// Package cst defines a language-neutral concrete syntax tree. Parsers for
// individual languages live in subpackages and map their grammar onto the
// tagged-union Node defined here; the analysis components consume only this
// package and never see a tree-sitter node.
package cst

import "errors"

// ErrParse marks a file whose syntax tree could not be produced. Callers are
// expected to skip the file and continue; a parse failure is never fatal to a
// whole run.
var ErrParse = errors.New("cst: parse error")

// Kind discriminates the Node union.
type Kind int

const (
	KindModule Kind = iota
	KindFunctionDef
	KindClassDef
	KindAssign
	KindAugAssign
	KindCall
	KindAttribute
	KindIdentifier
	KindIf
	KindWhile
	KindFor
	KindTry
	KindExcept
	KindReturn
	KindImport
	KindImportFrom
	KindString
	KindFString
	KindOther
)

var kindNames = map[Kind]string{
	KindModule:      "module",
	KindFunctionDef: "function_def",
	KindClassDef:    "class_def",
	KindAssign:      "assign",
	KindAugAssign:   "aug_assign",
	KindCall:        "call",
	KindAttribute:   "attribute",
	KindIdentifier:  "identifier",
	KindIf:          "if",
	KindWhile:       "while",
	KindFor:         "for",
	KindTry:         "try",
	KindExcept:      "except",
	KindReturn:      "return",
	KindImport:      "import",
	KindImportFrom:  "import_from",
	KindString:      "string",
	KindFString:     "fstring",
	KindOther:       "other",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "other"
}

// Site is a node's position within its file. Line is 1-based, Col is 0-based
// (tree-sitter convention). EndLine lets statement-level consumers attribute
// multi-line constructs.
type Site struct {
	Line    int
	Col     int
	EndLine int
}

// Alias is one imported name, possibly renamed.
type Alias struct {
	Name   string
	AsName string
}

// Effective returns the name the import binds in the importing scope.
func (a Alias) Effective() string {
	if a.AsName != "" {
		return a.AsName
	}
	return a.Name
}

// Node is the tagged union. Kind decides which fields are meaningful; fields
// not listed for a kind are zero.
//
//	Module      Body
//	FunctionDef Name, Params, Decorators, Body
//	ClassDef    Name, Bases, Decorators, Body
//	Assign      Targets, Value
//	AugAssign   Targets (one element), Value
//	Call        Name (dotted callee path, "" if dynamic), Args
//	Attribute   Name (dotted path, "" if not statically resolvable)
//	Identifier  Name
//	If          Cond, Body, OrElse
//	While       Cond, Body
//	For         Targets, Value (iterable), Body
//	Try         Body, Handlers, OrElse (else+finally blocks)
//	Except      Cond (exception expression, may be nil), Body
//	Return      Value (may be nil)
//	Import      Names
//	ImportFrom  Module, Names
//	String      Text only
//	FString     Children (interpolated expressions)
//	Other       Children (generic subtree)
//
// Children always holds every syntactic descendant expression of the node in
// source order, regardless of kind, so generic walks see the full tree.
type Node struct {
	Kind Kind
	Site Site

	// Text is the exact source text of the node.
	Text string
	// Name is the identifier, dotted attribute path, or definition name.
	Name string

	Targets    []*Node
	Value      *Node
	Cond       *Node
	Args       []*Node
	Body       []*Node
	OrElse     []*Node
	Handlers   []*Node
	Children   []*Node
	Params     []string
	Bases      []string
	Decorators []string
	Module     string
	Names      []Alias
}

// Walk visits n and every node reachable through its structural fields in
// source order. The visitor returns false to prune the subtree below a node.
func Walk(n *Node, visit func(*Node) bool) {
	if n == nil {
		return
	}
	if !visit(n) {
		return
	}
	for _, c := range n.Targets {
		Walk(c, visit)
	}
	Walk(n.Value, visit)
	Walk(n.Cond, visit)
	for _, c := range n.Args {
		Walk(c, visit)
	}
	for _, c := range n.Body {
		Walk(c, visit)
	}
	for _, c := range n.OrElse {
		Walk(c, visit)
	}
	for _, c := range n.Handlers {
		Walk(c, visit)
	}
	for _, c := range n.Children {
		Walk(c, visit)
	}
}

// Identifiers collects every identifier and statically-resolvable attribute
// path in the expression subtree rooted at n, in source order. Duplicate
// names are preserved.
func Identifiers(n *Node) []string {
	var out []string
	Walk(n, func(c *Node) bool {
		switch c.Kind {
		case KindIdentifier:
			out = append(out, c.Name)
		case KindAttribute:
			if c.Name != "" {
				out = append(out, c.Name)
			}
			// Do not descend: the dotted path already covers the parts.
			return false
		}
		return true
	})
	return out
}

// Calls collects every call node in the subtree rooted at n, in source order.
func Calls(n *Node) []*Node {
	var out []*Node
	Walk(n, func(c *Node) bool {
		if c.Kind == KindCall {
			out = append(out, c)
		}
		return true
	})
	return out
}
