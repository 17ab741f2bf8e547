// Package taint tracks attacker-controlled data from source occurrences
// through the semantic data-flow graph into dangerous sinks. Propagation is
// a bounded monotone fixpoint: tainted variables only gain categories and
// only climb the taint lattice, so each round either grows the state or
// terminates the loop.
package taint

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vulntrace/api/schemas"
	"github.com/xkilldash9x/vulntrace/internal/analysis/semantic"
	"github.com/xkilldash9x/vulntrace/internal/config"
	"github.com/xkilldash9x/vulntrace/internal/cst"
	"github.com/xkilldash9x/vulntrace/internal/ingest"
)

const defaultMaxRounds = 10

// Analyzer matches the configured rule tables against one file at a time.
// It carries no per-file state; Analyze may be called concurrently for
// different files.
type Analyzer struct {
	rules     config.RulesConfig
	log       *zap.Logger
	maxRounds int
}

// NewAnalyzer returns an Analyzer over the given rule tables.
func NewAnalyzer(rules config.RulesConfig, logger *zap.Logger) *Analyzer {
	return &Analyzer{rules: rules, log: logger.Named("taint"), maxRounds: defaultMaxRounds}
}

// SetMaxRounds overrides the fixpoint round cap.
func (a *Analyzer) SetMaxRounds(n int) {
	if n > 0 {
		a.maxRounds = n
	}
}

// state is the per-call working set of one Analyze run.
type state struct {
	result  *schemas.TaintAnalysisResult
	model   *semantic.Model
	tainted map[string]*schemas.TaintedVariable
	// order preserves first-taint insertion order for deterministic output.
	order []string
}

// Seed marks a named symbol as attacker controlled before propagation
// begins. Seeds cover inputs the rule tables cannot see, like parameters of
// externally reachable entry points.
type Seed struct {
	Name     string
	Line     int
	Category schemas.TaintCategory
	Level    schemas.TaintLevel
}

// Analyze runs the four phases over a single file: occurrence matching,
// seeding plus fixpoint propagation, flow identification, and vulnerability
// detection. Incomplete propagation is a warning, never an error.
func (a *Analyzer) Analyze(file *ingest.File, model *semantic.Model, graph *schemas.CallGraph) (*schemas.TaintAnalysisResult, error) {
	return a.AnalyzeSeeded(file, model, graph, nil)
}

// AnalyzeSeeded is Analyze with additional taint seeds applied before the
// fixpoint runs.
func (a *Analyzer) AnalyzeSeeded(file *ingest.File, model *semantic.Model, graph *schemas.CallGraph, seeds []Seed) (*schemas.TaintAnalysisResult, error) {
	log := a.log.With(zap.String("file", file.Path))

	s := &state{
		result:  &schemas.TaintAnalysisResult{File: file.Path},
		model:   model,
		tainted: make(map[string]*schemas.TaintedVariable),
	}

	a.matchOccurrences(s)
	a.applySeeds(s, seeds)
	a.seedAndPropagate(s)
	a.identifyFlows(s)
	a.detectVulnerabilities(s)

	for _, key := range s.order {
		s.result.TaintedVars = append(s.result.TaintedVars, *s.tainted[key])
	}

	log.Debug("taint analysis complete",
		zap.Int("sources", len(s.result.Sources)),
		zap.Int("sinks", len(s.result.Sinks)),
		zap.Int("tainted", len(s.result.TaintedVars)),
		zap.Int("flows", len(s.result.Flows)),
		zap.Int("vulnerabilities", len(s.result.Vulnerabilities)))

	return s.result, nil
}

// --- phase 1: occurrence matching ---

func (a *Analyzer) matchOccurrences(s *state) {
	cst.Walk(s.model.Root, func(n *cst.Node) bool {
		switch n.Kind {
		case cst.KindCall:
			a.matchCall(s, n)
		case cst.KindAttribute:
			a.matchAttribute(s, n)
		}
		return true
	})
}

func (a *Analyzer) matchCall(s *state, call *cst.Node) {
	name := call.Name
	if name == "" {
		return
	}
	loc := schemas.Location{File: s.model.File, Line: call.Site.Line, Column: call.Site.Col}

	for _, src := range a.rules.Sources {
		for _, pattern := range src.FunctionPatterns {
			if strings.Contains(name, pattern) {
				s.result.Sources = append(s.result.Sources, schemas.TaintSourceOccurrence{
					Name:     name,
					Category: src.Category,
					Level:    src.Level,
					Location: loc,
				})
				break
			}
		}
	}
	for _, sink := range a.rules.Sinks {
		for _, pattern := range sink.FunctionPatterns {
			if strings.Contains(name, pattern) {
				s.result.Sinks = append(s.result.Sinks, schemas.TaintSinkOccurrence{
					Name:         name,
					VulnerableTo: sink.VulnerableTo,
					Severity:     sink.Severity,
					Location:     loc,
					ArgPositions: sink.ParameterPositions,
				})
				break
			}
		}
	}
}

func (a *Analyzer) matchAttribute(s *state, attr *cst.Node) {
	name := attr.Name
	if name == "" {
		name = strings.TrimSpace(attr.Text)
	}
	if name == "" {
		return
	}
	loc := schemas.Location{File: s.model.File, Line: attr.Site.Line, Column: attr.Site.Col}

	for _, src := range a.rules.Sources {
		for _, pattern := range src.VariablePatterns {
			if strings.Contains(name, pattern) {
				s.result.Sources = append(s.result.Sources, schemas.TaintSourceOccurrence{
					Name:     name,
					Category: src.Category,
					Level:    src.Level,
					Location: loc,
				})
				break
			}
		}
	}
}

// applySeeds taints the named symbols directly and records a synthetic
// source occurrence at each symbol's definition site so flows can trace
// back to it.
func (a *Analyzer) applySeeds(s *state, seeds []Seed) {
	for _, seed := range seeds {
		id, ok := a.resolveAtLine(s.model, seed.Name, seed.Line)
		if !ok {
			s.result.Warnings = append(s.result.Warnings, fmt.Sprintf("seed %q not resolvable at line %d", seed.Name, seed.Line))
			continue
		}
		sym := s.model.Symbol(id)
		s.result.Sources = append(s.result.Sources, schemas.TaintSourceOccurrence{
			Name:     seed.Name,
			Category: seed.Category,
			Level:    seed.Level,
			Location: sym.Site,
		})
		key := s.model.SymbolKey(id)
		s.merge(key, &schemas.TaintedVariable{
			Symbol:     key,
			Name:       seed.Name,
			Categories: []schemas.TaintCategory{seed.Category},
			Level:      seed.Level,
			Provenance: []schemas.Location{sym.Site},
		})
	}
}

// --- phase 2: seeding and fixpoint propagation ---

func (a *Analyzer) seedAndPropagate(s *state) {
	for i := range s.result.Sources {
		a.seedFromSource(s, &s.result.Sources[i])
	}

	changed := true
	rounds := 0
	for changed && rounds < a.maxRounds {
		changed = false
		rounds++
		for i := range s.model.Flows {
			if a.propagateFlow(s, &s.model.Flows[i]) {
				changed = true
			}
		}
	}
	if changed {
		s.result.Warnings = append(s.result.Warnings, "fixpoint_not_converged")
	}
}

// seedFromSource taints the targets of every assignment on the source's
// line. The assignment statement and the source occurrence share a line, so
// `user = input()` taints user directly.
func (a *Analyzer) seedFromSource(s *state, src *schemas.TaintSourceOccurrence) {
	cst.Walk(s.model.Root, func(n *cst.Node) bool {
		if (n.Kind != cst.KindAssign && n.Kind != cst.KindAugAssign) || n.Site.Line != src.Location.Line {
			return true
		}
		for _, target := range n.Targets {
			if target.Kind != cst.KindIdentifier || strings.Contains(target.Name, ".") {
				continue
			}
			id, ok := a.resolveAtLine(s.model, target.Name, n.Site.Line)
			if !ok {
				continue
			}
			key := s.model.SymbolKey(id)
			tv := &schemas.TaintedVariable{
				Symbol:     key,
				Name:       target.Name,
				Categories: []schemas.TaintCategory{src.Category},
				Level:      src.Level,
				Provenance: []schemas.Location{src.Location},
			}
			s.merge(key, tv)
		}
		return true
	})
}

// resolveAtLine finds the symbol a name binds to at the given line: the
// enclosing function's scope chain when inside one, the global scope
// otherwise.
func (a *Analyzer) resolveAtLine(m *semantic.Model, name string, line int) (semantic.SymbolID, bool) {
	scopeKey := "global"
	if fn := m.FunctionAt(line); fn != nil {
		scopeKey = fn.ScopeKey
	}
	scope, ok := m.ScopeByKey(scopeKey)
	if !ok {
		return semantic.NoSymbol, false
	}
	return m.Lookup(name, scope)
}

// propagateFlow pushes taint across one data-flow edge, reporting whether
// the target's state grew.
func (a *Analyzer) propagateFlow(s *state, flow *semantic.FlowEdge) bool {
	sourceKey := s.model.SymbolKey(flow.Source)
	src, ok := s.tainted[sourceKey]
	if !ok {
		return false
	}

	targetKey := s.model.SymbolKey(flow.Target)
	targetSym := s.model.Symbol(flow.Target)

	next := &schemas.TaintedVariable{
		Symbol:      targetKey,
		Name:        targetSym.Name,
		Categories:  append([]schemas.TaintCategory(nil), src.Categories...),
		Level:       src.Level,
		Provenance:  append(append([]schemas.Location(nil), src.Provenance...), flow.Site),
		Sanitized:   src.Sanitized,
		SanitizedBy: append([]string(nil), src.SanitizedBy...),
	}

	if methods := a.sanitizersIn(flow.Context); len(methods) > 0 {
		next.Sanitized = true
		next.SanitizedBy = appendMissing(next.SanitizedBy, methods...)
		next.Level = schemas.LevelLow
	}

	return s.merge(targetKey, next)
}

func (a *Analyzer) sanitizersIn(context string) []string {
	if context == "" {
		return nil
	}
	var methods []string
	for _, san := range a.rules.Sanitizers {
		if strings.Contains(context, san.Pattern) {
			methods = append(methods, san.Pattern)
		}
	}
	return methods
}

// merge installs or strengthens a tainted-variable entry. Categories are
// unioned and the level joined upward; sanitization sticks once set. Returns
// whether anything changed.
func (s *state) merge(key string, next *schemas.TaintedVariable) bool {
	existing, ok := s.tainted[key]
	if !ok {
		s.tainted[key] = next
		s.order = append(s.order, key)
		return true
	}

	changed := false
	for _, cat := range next.Categories {
		if !containsCategory(existing.Categories, cat) {
			existing.Categories = append(existing.Categories, cat)
			changed = true
		}
	}
	if next.Level.Rank() > existing.Level.Rank() && !existing.Sanitized {
		existing.Level = next.Level
		changed = true
	}
	if next.Sanitized && !existing.Sanitized {
		existing.Sanitized = true
		existing.Level = schemas.LevelLow
		changed = true
	}
	for _, m := range next.SanitizedBy {
		before := len(existing.SanitizedBy)
		existing.SanitizedBy = appendMissing(existing.SanitizedBy, m)
		if len(existing.SanitizedBy) != before {
			changed = true
		}
	}
	return changed
}

func containsCategory(list []schemas.TaintCategory, cat schemas.TaintCategory) bool {
	for _, c := range list {
		if c == cat {
			return true
		}
	}
	return false
}

func appendMissing(list []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, existing := range list {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			list = append(list, item)
		}
	}
	return list
}

// --- phase 3: flow identification ---

// identifyFlows pairs each sink with every reaching source. A source and
// sink produce one flow carried by the tainted variable with the deepest
// provenance chain, which is the variable closest to the sink.
func (a *Analyzer) identifyFlows(s *state) {
	keys := append([]string(nil), s.order...)
	sort.Strings(keys)

	for i := range s.result.Sinks {
		sink := &s.result.Sinks[i]

		best := make(map[string]*schemas.TaintedVariable)
		var sourceOrder []string
		for _, key := range keys {
			tv := s.tainted[key]
			if !categoriesIntersect(tv.Categories, sink.VulnerableTo) {
				continue
			}
			if len(tv.Provenance) == 0 {
				continue
			}
			origin := tv.Provenance[0].String()
			current, seen := best[origin]
			if !seen {
				best[origin] = tv
				sourceOrder = append(sourceOrder, origin)
				continue
			}
			if len(tv.Provenance) > len(current.Provenance) ||
				(len(tv.Provenance) == len(current.Provenance) && tv.Symbol < current.Symbol) {
				best[origin] = tv
			}
		}

		for _, origin := range sourceOrder {
			tv := best[origin]
			src, ok := s.sourceAt(tv.Provenance)
			if !ok {
				continue
			}

			category := a.flowCategory(sink)
			flow := schemas.TaintFlow{
				Source:        src,
				Sink:          *sink,
				Variables:     []schemas.TaintedVariable{*tv},
				Category:      category,
				Severity:      tv.Level.Join(sink.Severity),
				IsExploitable: !tv.Sanitized,
			}
			if tv.Sanitized {
				flow.SanitizationGaps = a.sanitizationGaps(tv, category)
			}
			s.result.Flows = append(s.result.Flows, flow)
		}
	}
}

// sourceAt resolves a tainted variable's originating source occurrence from
// the head of its provenance chain.
func (s *state) sourceAt(provenance []schemas.Location) (schemas.TaintSourceOccurrence, bool) {
	if len(provenance) == 0 {
		return schemas.TaintSourceOccurrence{}, false
	}
	origin := provenance[0]
	for _, src := range s.result.Sources {
		if src.Location.File == origin.File && src.Location.Line == origin.Line {
			return src, true
		}
	}
	return schemas.TaintSourceOccurrence{}, false
}

// flowCategory reports the injection class the sink rule assigns to matches
// of its patterns, falling back to the first vulnerable category.
func (a *Analyzer) flowCategory(sink *schemas.TaintSinkOccurrence) schemas.TaintCategory {
	for _, rule := range a.rules.Sinks {
		for _, pattern := range rule.FunctionPatterns {
			if strings.Contains(sink.Name, pattern) {
				return rule.Category
			}
		}
	}
	if len(sink.VulnerableTo) > 0 {
		return sink.VulnerableTo[0]
	}
	return schemas.TaintUserInput
}

// sanitizationGaps reports when the sanitizers a variable passed through do
// not cover the injection class of the flow: sanitized, but with the wrong
// tool.
func (a *Analyzer) sanitizationGaps(tv *schemas.TaintedVariable, category schemas.TaintCategory) []string {
	for _, method := range tv.SanitizedBy {
		for _, rule := range a.rules.Sanitizers {
			if rule.Pattern != method {
				continue
			}
			if containsCategory(rule.Categories, category) {
				return nil
			}
		}
	}
	return []string{fmt.Sprintf("Inappropriate sanitization for %s", category)}
}

func categoriesIntersect(a, b []schemas.TaintCategory) bool {
	for _, x := range a {
		if containsCategory(b, x) {
			return true
		}
	}
	return false
}

// --- phase 4: vulnerability detection ---

func (a *Analyzer) detectVulnerabilities(s *state) {
	for _, flow := range s.result.Flows {
		if !flow.IsExploitable {
			continue
		}
		var path []schemas.Location
		if len(flow.Variables) > 0 {
			path = flow.Variables[0].Provenance
		}
		s.result.Vulnerabilities = append(s.result.Vulnerabilities, schemas.Vulnerability{
			Category:    flow.Category,
			Severity:    flow.Severity,
			Source:      flow.Source.Location,
			Sink:        flow.Sink.Location,
			FlowPath:    path,
			Exploitable: true,
			Remediation: a.rules.Remediation(flow.Category),
		})
	}
}
