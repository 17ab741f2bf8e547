// Package slicer computes program slices: the statements relevant to a
// criterion point, backward toward its inputs or forward toward its
// effects. Slices are the evidence material attached to validated
// vulnerabilities.
package slicer

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vulntrace/api/schemas"
	"github.com/xkilldash9x/vulntrace/internal/analysis/semantic"
	"github.com/xkilldash9x/vulntrace/internal/config"
	"github.com/xkilldash9x/vulntrace/internal/cst"
)

const (
	securityThreshold  = 0.3
	essentialThreshold = 0.5
)

// Slicer slices over the semantic models of a project snapshot. It is
// read-only after New and safe for serial reuse across criteria.
type Slicer struct {
	models map[string]*semantic.Model
	graph  *schemas.CallGraph
	rules  config.RulesConfig
	log    *zap.Logger

	// statements indexes, per file, the first statement node seen on each
	// line.
	statements map[string]map[int]*cst.Node
}

// New builds a Slicer and its per-file statement indexes.
func New(models map[string]*semantic.Model, graph *schemas.CallGraph, rules config.RulesConfig, logger *zap.Logger) *Slicer {
	s := &Slicer{
		models:     models,
		graph:      graph,
		rules:      rules,
		log:        logger.Named("slicer"),
		statements: make(map[string]map[int]*cst.Node),
	}
	for path, m := range models {
		index := make(map[int]*cst.Node)
		cst.Walk(m.Root, func(n *cst.Node) bool {
			if n.Site.Line > 0 {
				if _, ok := index[n.Site.Line]; !ok && isStatement(n.Kind) {
					index[n.Site.Line] = n
				}
			}
			return true
		})
		s.statements[path] = index
	}
	return s
}

func isStatement(k cst.Kind) bool {
	switch k {
	case cst.KindAssign, cst.KindAugAssign, cst.KindCall, cst.KindIf,
		cst.KindWhile, cst.KindFor, cst.KindTry, cst.KindReturn,
		cst.KindImport, cst.KindImportFrom, cst.KindFunctionDef,
		cst.KindClassDef, cst.KindOther:
		return true
	}
	return false
}

// SliceBackward collects the statements the criterion point depends on,
// transitively, through data and control dependencies.
func (s *Slicer) SliceBackward(point schemas.SlicePoint) (*schemas.CodeSlice, error) {
	m, ok := s.models[point.File]
	if !ok {
		return nil, fmt.Errorf("slicing %s: no semantic model", point.File)
	}

	slice := &schemas.CodeSlice{Kind: schemas.SliceBackward, Criterion: point}
	nodes := s.traverse(m, point, true)
	finishSlice(slice, nodes, point, 1.0)

	s.log.Debug("backward slice complete",
		zap.String("file", point.File), zap.Int("line", point.Line),
		zap.Int("nodes", len(slice.Nodes)))
	return slice, nil
}

// SliceForward collects the statements influenced by the criterion point.
func (s *Slicer) SliceForward(point schemas.SlicePoint) (*schemas.CodeSlice, error) {
	m, ok := s.models[point.File]
	if !ok {
		return nil, fmt.Errorf("slicing %s: no semantic model", point.File)
	}

	slice := &schemas.CodeSlice{Kind: schemas.SliceForward, Criterion: point}
	nodes := s.traverse(m, point, false)
	finishSlice(slice, nodes, point, 1.0)

	s.log.Debug("forward slice complete",
		zap.String("file", point.File), zap.Int("line", point.Line),
		zap.Int("nodes", len(slice.Nodes)))
	return slice, nil
}

// SliceSecurityFocused unions the backward and forward slices, keeps the
// higher relevance per line, and drops everything below the security
// threshold.
func (s *Slicer) SliceSecurityFocused(point schemas.SlicePoint) (*schemas.CodeSlice, error) {
	union, err := s.securityUnion(point)
	if err != nil {
		return nil, err
	}

	var kept []schemas.SliceNode
	for _, n := range union {
		if n.SecurityRelevance > securityThreshold {
			kept = append(kept, n)
		}
	}

	slice := &schemas.CodeSlice{Kind: schemas.SliceSecurityFocused, Criterion: point}
	finishSlice(slice, kept, point, 1.2)
	return slice, nil
}

// ExtractMinimalSufficientSet reduces the union slice to the essential
// nodes: high relevance, criterion-related, and always the criterion line
// itself.
func (s *Slicer) ExtractMinimalSufficientSet(point schemas.SlicePoint) (*schemas.CodeSlice, error) {
	union, err := s.securityUnion(point)
	if err != nil {
		return nil, err
	}

	slice := &schemas.CodeSlice{Kind: schemas.SliceMinimal, Criterion: point}

	keep := make(map[int]schemas.SliceNode)
	for _, n := range union {
		if n.SecurityRelevance > essentialThreshold || s.criterionRelated(&n, point) || n.Location.Line == point.Line {
			keep[n.Location.Line] = n
		}
	}
	if _, ok := keep[point.Line]; !ok {
		// The criterion line must always be represented, even when no
		// indexed statement sits on it.
		keep[point.Line], _ = s.nodeAt(point.File, point.Line)
		slice.Warnings = append(slice.Warnings, fmt.Sprintf("no indexed statement at %s:%d", point.File, point.Line))
	}

	var nodes []schemas.SliceNode
	for _, n := range keep {
		nodes = append(nodes, n)
	}
	finishSlice(slice, nodes, point, 1.0)

	slice.EntryPoints = entryPoints(slice.Nodes)
	slice.ExitPoints = exitPoints(slice.Nodes)
	slice.CompletenessScore = completenessScore(slice.Nodes, point)
	return slice, nil
}

// securityUnion merges the backward and forward slices keeping the maximum
// relevance observed per line.
func (s *Slicer) securityUnion(point schemas.SlicePoint) ([]schemas.SliceNode, error) {
	backward, err := s.SliceBackward(point)
	if err != nil {
		return nil, err
	}
	forward, err := s.SliceForward(point)
	if err != nil {
		return nil, err
	}

	best := make(map[int]schemas.SliceNode)
	for _, n := range append(append([]schemas.SliceNode(nil), backward.Nodes...), forward.Nodes...) {
		if cur, ok := best[n.Location.Line]; !ok || n.SecurityRelevance > cur.SecurityRelevance {
			best[n.Location.Line] = n
		}
	}
	var out []schemas.SliceNode
	for _, n := range best {
		out = append(out, n)
	}
	return out, nil
}

func (s *Slicer) criterionRelated(n *schemas.SliceNode, point schemas.SlicePoint) bool {
	if point.VariableName != "" {
		if containsString(n.Used, point.VariableName) || containsString(n.Defined, point.VariableName) {
			return true
		}
	}
	if point.FunctionName != "" {
		for _, called := range n.Called {
			if strings.Contains(called, point.FunctionName) {
				return true
			}
		}
	}
	return false
}

// --- traversal ---

// traverse runs the worklist from the criterion line. Backward follows a
// statement's data and control dependencies; forward follows the lines
// where its defined variables are read.
func (s *Slicer) traverse(m *semantic.Model, point schemas.SlicePoint, backward bool) []schemas.SliceNode {
	visited := make(map[int]bool)
	var nodes []schemas.SliceNode

	worklist := []int{point.Line}
	if backward && point.FunctionName != "" && s.graph != nil {
		// Call sites of the criterion function are part of how data reaches
		// it.
		for _, e := range s.graph.CallEdges {
			if e.Location.File == point.File && s.graph.Functions[e.Callee].Name == point.FunctionName {
				worklist = append(worklist, e.Location.Line)
			}
		}
	}

	for len(worklist) > 0 {
		line := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if visited[line] {
			continue
		}
		visited[line] = true

		node, ok := s.nodeAt(point.File, line)
		if !ok {
			continue
		}
		nodes = append(nodes, node)

		if backward {
			for _, dep := range node.DataDeps {
				if !visited[dep] {
					worklist = append(worklist, dep)
				}
			}
			for _, dep := range node.ControlDeps {
				if !visited[dep] {
					worklist = append(worklist, dep)
				}
			}
		} else {
			seeds := node.Defined
			if line == point.Line && point.VariableName != "" {
				seeds = appendUnique(seeds, point.VariableName)
			}
			for _, use := range s.useLines(point.File, seeds, line) {
				if !visited[use] {
					worklist = append(worklist, use)
				}
			}
		}
	}
	return nodes
}

// useLines scans the statement index for lines reading any of the given
// variables, in ascending order.
func (s *Slicer) useLines(file string, vars []string, except int) []int {
	if len(vars) == 0 {
		return nil
	}
	index := s.statements[file]
	lines := make([]int, 0, len(index))
	for line := range index {
		lines = append(lines, line)
	}
	sort.Ints(lines)

	var out []int
	for _, line := range lines {
		if line == except {
			continue
		}
		used := headerIdentifiers(index[line])
		for _, v := range vars {
			if containsString(used, v) {
				out = append(out, line)
				break
			}
		}
	}
	return out
}

// nodeAt builds the slice node for one indexed line. Missing lines yield a
// bare placeholder.
func (s *Slicer) nodeAt(file string, line int) (schemas.SliceNode, bool) {
	stmt, ok := s.statements[file][line]
	if !ok {
		return schemas.SliceNode{
			Location: schemas.Location{File: file, Line: line},
			Kind:     "statement",
		}, false
	}

	defined := definedNames(stmt)
	used := subtract(headerIdentifiers(stmt), defined)
	called := calledNames(stmt)

	node := schemas.SliceNode{
		Location:    schemas.Location{File: file, Line: line, Column: stmt.Site.Col},
		Kind:        stmt.Kind.String(),
		Content:     firstLine(stmt.Text),
		Defined:     defined,
		Used:        used,
		Called:      called,
		ControlDeps: s.models[file].ControlDepsForLine(line),
	}
	node.DataDeps = s.dataDepLines(file, used, line)
	node.SecurityRelevance = s.relevance(stmt.Kind, used, defined, called)
	return node, true
}

// dataDepLines resolves where the used variables were defined: the symbol
// definition sites plus every assignment edge targeting them.
func (s *Slicer) dataDepLines(file string, used []string, except int) []int {
	m := s.models[file]
	seen := make(map[int]bool)
	var out []int
	add := func(line int) {
		if line > 0 && line != except && !seen[line] {
			seen[line] = true
			out = append(out, line)
		}
	}
	for _, v := range used {
		for _, sym := range m.SymbolsNamed(v) {
			add(sym.Site.Line)
		}
		for _, f := range m.DependenciesOf(v) {
			add(f.Site.Line)
		}
	}
	sort.Ints(out)
	return out
}

// --- statement shape helpers ---

// headerIdentifiers returns the names read by a statement's own line,
// excluding nested block bodies.
func headerIdentifiers(n *cst.Node) []string {
	switch n.Kind {
	case cst.KindIf, cst.KindWhile:
		return cst.Identifiers(n.Cond)
	case cst.KindFor:
		return cst.Identifiers(n.Value)
	case cst.KindAssign, cst.KindAugAssign, cst.KindReturn:
		return cst.Identifiers(n.Value)
	case cst.KindFunctionDef, cst.KindClassDef, cst.KindTry,
		cst.KindImport, cst.KindImportFrom:
		return nil
	default:
		return cst.Identifiers(n)
	}
}

func definedNames(n *cst.Node) []string {
	var out []string
	switch n.Kind {
	case cst.KindAssign, cst.KindAugAssign, cst.KindFor:
		for _, t := range n.Targets {
			if t.Kind == cst.KindIdentifier && !strings.Contains(t.Name, ".") {
				out = append(out, t.Name)
			}
		}
	case cst.KindFunctionDef, cst.KindClassDef:
		out = append(out, n.Name)
	}
	sort.Strings(out)
	return out
}

func calledNames(n *cst.Node) []string {
	var scope *cst.Node
	switch n.Kind {
	case cst.KindIf, cst.KindWhile:
		scope = n.Cond
	case cst.KindAssign, cst.KindAugAssign, cst.KindReturn, cst.KindFor:
		scope = n.Value
	case cst.KindFunctionDef, cst.KindClassDef, cst.KindTry,
		cst.KindImport, cst.KindImportFrom:
		return nil
	default:
		scope = n
	}
	if scope == nil {
		return nil
	}
	var out []string
	for _, c := range cst.Calls(scope) {
		if c.Name != "" {
			out = append(out, c.Name)
		}
	}
	sort.Strings(out)
	return out
}

// --- scoring ---

// relevance scores how security-interesting one statement is: source reads,
// sink calls, branching, and security-named variables all raise it.
func (s *Slicer) relevance(kind cst.Kind, used, defined, called []string) float64 {
	score := 0.0

	for _, src := range s.rules.Sources {
		if matchesAny(called, src.FunctionPatterns) || matchesAny(used, src.VariablePatterns) {
			score += 0.8
		}
	}
	for _, sink := range s.rules.Sinks {
		if matchesAny(called, sink.FunctionPatterns) {
			score += 1.0
		}
	}
	switch kind {
	case cst.KindIf, cst.KindWhile, cst.KindFor, cst.KindTry:
		score += 0.3
	}
	for _, v := range append(append([]string(nil), used...), defined...) {
		lower := strings.ToLower(v)
		for _, keyword := range s.rules.SecurityKeywords {
			if strings.Contains(lower, keyword) {
				score += 0.5
				break
			}
		}
	}

	if score > 1.0 {
		return 1.0
	}
	return score
}

func matchesAny(names, patterns []string) bool {
	for _, name := range names {
		for _, p := range patterns {
			if strings.Contains(name, p) {
				return true
			}
		}
	}
	return false
}

// --- slice assembly ---

func finishSlice(slice *schemas.CodeSlice, nodes []schemas.SliceNode, point schemas.SlicePoint, boost float64) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Location.File != nodes[j].Location.File {
			return nodes[i].Location.File < nodes[j].Location.File
		}
		return nodes[i].Location.Line < nodes[j].Location.Line
	})
	slice.Nodes = nodes
	slice.SecurityScore = securityScore(nodes) * boost
	if slice.SecurityScore > 1.0 {
		slice.SecurityScore = 1.0
	}
	slice.CompletenessScore = completenessScore(nodes, point)
}

func securityScore(nodes []schemas.SliceNode) float64 {
	if len(nodes) == 0 {
		return 0.0
	}
	total := 0.0
	for _, n := range nodes {
		total += n.SecurityRelevance
	}
	avg := total / float64(len(nodes))
	if avg > 1.0 {
		return 1.0
	}
	return avg
}

func completenessScore(nodes []schemas.SliceNode, point schemas.SlicePoint) float64 {
	if len(nodes) == 0 {
		return 0.0
	}
	score := 0.3
	for _, n := range nodes {
		if n.Location.File == point.File && n.Location.Line == point.Line {
			score = 0.8
			break
		}
	}
	if len(entryPoints(nodes)) > 0 && len(exitPoints(nodes)) > 0 {
		score += 0.2
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}

// entryPoints are nodes none of whose dependencies sit inside the slice.
func entryPoints(nodes []schemas.SliceNode) []schemas.Location {
	inSlice := make(map[int]bool, len(nodes))
	for _, n := range nodes {
		inSlice[n.Location.Line] = true
	}
	var out []schemas.Location
	for _, n := range nodes {
		internal := false
		for _, dep := range append(append([]int(nil), n.DataDeps...), n.ControlDeps...) {
			if inSlice[dep] {
				internal = true
				break
			}
		}
		if !internal {
			out = append(out, n.Location)
		}
	}
	return out
}

// exitPoints are nodes no other node in the slice depends on.
func exitPoints(nodes []schemas.SliceNode) []schemas.Location {
	depended := make(map[int]bool)
	for _, n := range nodes {
		for _, dep := range n.DataDeps {
			depended[dep] = true
		}
		for _, dep := range n.ControlDeps {
			depended[dep] = true
		}
	}
	var out []schemas.Location
	for _, n := range nodes {
		if !depended[n.Location.Line] {
			out = append(out, n.Location)
		}
	}
	return out
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	if containsString(list, s) {
		return list
	}
	return append(append([]string(nil), list...), s)
}

func subtract(a, b []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, x := range a {
		if !containsString(b, x) && !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	sort.Strings(out)
	return out
}
