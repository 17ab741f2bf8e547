package schemas

import (
	"fmt"
	"sort"
	"strings"
)

// SliceKind names the slicing strategy that produced a CodeSlice.
type SliceKind string

const (
	SliceBackward        SliceKind = "backward"
	SliceForward         SliceKind = "forward"
	SliceSecurityFocused SliceKind = "security_focused"
	SliceMinimal         SliceKind = "minimal_sufficient"
)

// SlicePoint identifies the criterion a slice is computed for: a file and
// line, optionally narrowed to a variable or function name.
type SlicePoint struct {
	File         string `json:"file"`
	Line         int    `json:"line"`
	VariableName string `json:"variable_name,omitempty"`
	FunctionName string `json:"function_name,omitempty"`
}

// SliceNode is one analyzed statement inside a slice.
type SliceNode struct {
	Location Location `json:"location"`
	Kind     string   `json:"kind"`
	Content  string   `json:"content"`
	// Defined/Used/Called are sorted for deterministic serialization.
	Defined []string `json:"defined,omitempty"`
	Used    []string `json:"used,omitempty"`
	Called  []string `json:"called,omitempty"`
	// ControlDeps and DataDeps are line numbers this statement depends on.
	ControlDeps []int `json:"control_deps,omitempty"`
	DataDeps    []int `json:"data_deps,omitempty"`
	// SecurityRelevance scores how security-interesting the statement is,
	// in [0, 1].
	SecurityRelevance float64 `json:"security_relevance"`
}

// CodeSlice is a coherent evidence set of statements relevant to a slicing
// criterion. A slice always contains at least the node(s) at the criterion
// line when any exist.
type CodeSlice struct {
	Kind      SliceKind   `json:"kind"`
	Criterion SlicePoint  `json:"criterion"`
	Nodes     []SliceNode `json:"nodes"`
	// EntryPoints are nodes with no dependency inside the slice; ExitPoints
	// are nodes nothing else in the slice depends on.
	EntryPoints []Location `json:"entry_points,omitempty"`
	ExitPoints  []Location `json:"exit_points,omitempty"`
	// SecurityScore averages node relevance; CompletenessScore estimates
	// whether the slice is a self-contained evidence set. Both in [0, 1].
	SecurityScore     float64  `json:"security_score"`
	CompletenessScore float64  `json:"completeness_score"`
	Warnings          []string `json:"warnings,omitempty"`
}

// LineCount returns the number of statements in the slice.
func (s *CodeSlice) LineCount() int { return len(s.Nodes) }

// FileCount returns the number of distinct files the slice touches.
func (s *CodeSlice) FileCount() int {
	files := make(map[string]struct{})
	for _, n := range s.Nodes {
		files[n.Location.File] = struct{}{}
	}
	return len(files)
}

// RenderContent renders the slice as annotated text, grouped by file and
// ordered by line, for inclusion in human-checkable evidence.
func (s *CodeSlice) RenderContent() string {
	byFile := make(map[string][]SliceNode)
	for _, n := range s.Nodes {
		byFile[n.Location.File] = append(byFile[n.Location.File], n)
	}
	files := make([]string, 0, len(byFile))
	for f := range byFile {
		files = append(files, f)
	}
	sort.Strings(files)

	var b strings.Builder
	for _, f := range files {
		nodes := byFile[f]
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].Location.Line < nodes[j].Location.Line })
		fmt.Fprintf(&b, "# File: %s\n", f)
		for _, n := range nodes {
			fmt.Fprintf(&b, "%4d: %s\n", n.Location.Line, n.Content)
		}
		b.WriteString("\n")
	}
	return b.String()
}
