// Package schemas defines the plain-data output types of the analysis
// pipeline. Everything here is behavior-free and serializable so that
// downstream consumers (reporting, LLM enrichment) can cross-reference
// results by file path, qualified name, and line number without re-running
// any analysis.
package schemas

import "fmt"

// Location identifies a point in a source file. Line numbers are 1-indexed,
// columns are 0-indexed (tree-sitter convention).
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Before reports whether l sorts before other in (file, line, column) order.
// All aggregated pipeline outputs are emitted in this order so that two runs
// over identical input serialize byte-identically.
func (l Location) Before(other Location) bool {
	if l.File != other.File {
		return l.File < other.File
	}
	if l.Line != other.Line {
		return l.Line < other.Line
	}
	return l.Column < other.Column
}

// Severity grades findings and rule-table entries.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)
