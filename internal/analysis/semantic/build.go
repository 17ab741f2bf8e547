package semantic

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vulntrace/api/schemas"
	"github.com/xkilldash9x/vulntrace/internal/cst"
	"github.com/xkilldash9x/vulntrace/internal/ingest"
)

// pythonBuiltins is the subset of builtin names worth distinguishing from
// imported ones when a read has no visible definition.
var pythonBuiltins = map[string]bool{
	"print": true, "len": true, "str": true, "int": true, "float": true,
	"list": true, "dict": true, "set": true, "tuple": true, "range": true,
	"open": true, "input": true, "type": true, "isinstance": true,
	"enumerate": true, "zip": true, "map": true, "filter": true,
	"sorted": true, "abs": true, "min": true, "max": true, "sum": true,
	"any": true, "all": true, "repr": true, "hash": true, "iter": true,
	"next": true, "getattr": true, "setattr": true, "hasattr": true,
	"super": true, "object": true, "Exception": true, "ValueError": true,
	"TypeError": true, "KeyError": true, "None": true, "True": true,
	"False": true,
}

// Build constructs the semantic model for one file. The file is parsed if
// its tree is not yet attached; a malformed file yields an error wrapping
// cst.ErrParse so the caller can skip it and continue.
func Build(ctx context.Context, file *ingest.File, logger *zap.Logger) (*Model, error) {
	log := logger.Named("semantic").With(zap.String("file", file.Path))

	if file.Root == nil {
		if err := file.Parse(ctx); err != nil {
			return nil, err
		}
	}

	m := newModel(file.Path, file.Language, file.Root)

	m.collectDefinitions(file.Root)
	m.collectSymbols(file.Root)
	m.collectFlows(file.Root)
	m.collectConditions(file.Root)
	m.buildCFGs()

	log.Debug("semantic model built",
		zap.Int("symbols", len(m.symbols)),
		zap.Int("flows", len(m.Flows)),
		zap.Int("functions", len(m.Functions)),
	)
	return m, nil
}

// --- Phase 1: definitions ---

func (m *Model) collectDefinitions(root *cst.Node) {
	var walk func(n *cst.Node, className string)
	walk = func(n *cst.Node, className string) {
		cst.Walk(n, func(c *cst.Node) bool {
			switch c.Kind {
			case cst.KindFunctionDef:
				scopeKey := fmt.Sprintf("function:%s:%d", c.Name, c.Site.Line)
				m.Functions[c.Name] = &FuncInfo{
					Name:       c.Name,
					Site:       schemas.Location{File: m.File, Line: c.Site.Line, Column: c.Site.Col},
					EndLine:    c.Site.EndLine,
					Params:     c.Params,
					Decorators: c.Decorators,
					ClassName:  className,
					ScopeKey:   scopeKey,
					Complexity: cyclomaticComplexity(c),
					Node:       c,
				}
				// Nested defs keep the enclosing class attribution.
				for _, b := range c.Body {
					walk(b, className)
				}
				return false

			case cst.KindClassDef:
				info := &ClassInfo{
					Name:  c.Name,
					Site:  schemas.Location{File: m.File, Line: c.Site.Line, Column: c.Site.Col},
					Bases: c.Bases,
					Node:  c,
				}
				for _, member := range c.Body {
					if member.Kind == cst.KindFunctionDef {
						info.Methods = append(info.Methods, member.Name)
					}
				}
				m.Classes[c.Name] = info
				for _, b := range c.Body {
					walk(b, c.Name)
				}
				return false

			case cst.KindImport:
				for _, a := range c.Names {
					m.Imports[a.Effective()] = a.Name
				}
			case cst.KindImportFrom:
				for _, a := range c.Names {
					m.Imports[a.Effective()] = c.Module + "." + a.Name
				}
			}
			return true
		})
	}
	walk(root, "")
}

// cyclomaticComplexity counts decision points in a definition body.
func cyclomaticComplexity(fn *cst.Node) int {
	complexity := 1
	for _, b := range fn.Body {
		cst.Walk(b, func(c *cst.Node) bool {
			switch c.Kind {
			case cst.KindIf, cst.KindWhile, cst.KindFor, cst.KindExcept:
				complexity++
			case cst.KindFunctionDef:
				return false
			}
			return true
		})
	}
	return complexity
}

// --- Phase 2: symbols and scopes ---

func (m *Model) collectSymbols(root *cst.Node) {
	w := &symbolWalker{m: m, stack: []ScopeID{0}}
	for _, stmt := range root.Body {
		w.walk(stmt)
	}
}

type symbolWalker struct {
	m     *Model
	stack []ScopeID
}

func (w *symbolWalker) current() ScopeID { return w.stack[len(w.stack)-1] }

func (w *symbolWalker) walk(n *cst.Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case cst.KindFunctionDef:
		key := fmt.Sprintf("function:%s:%d", n.Name, n.Site.Line)
		scope := w.m.ensureScope(key, w.current())
		site := schemas.Location{File: w.m.File, Line: n.Site.Line, Column: n.Site.Col}
		for _, p := range n.Params {
			w.m.declare(p, SymParameter, scope, site)
		}
		w.stack = append(w.stack, scope)
		for _, b := range n.Body {
			w.walk(b)
		}
		w.stack = w.stack[:len(w.stack)-1]

	case cst.KindClassDef:
		key := fmt.Sprintf("class:%s:%d", n.Name, n.Site.Line)
		scope := w.m.ensureScope(key, w.current())
		w.stack = append(w.stack, scope)
		for _, b := range n.Body {
			w.walk(b)
		}
		w.stack = w.stack[:len(w.stack)-1]

	case cst.KindAssign, cst.KindAugAssign:
		kind := SymLocal
		if w.current() == 0 {
			kind = SymGlobal
		}
		site := schemas.Location{File: w.m.File, Line: n.Site.Line, Column: n.Site.Col}
		for _, t := range n.Targets {
			if t.Kind == cst.KindIdentifier {
				w.m.declare(t.Name, kind, w.current(), site)
			}
		}
		w.reads(n.Value)

	case cst.KindFor:
		// Loop targets bind like assignments.
		kind := SymLocal
		if w.current() == 0 {
			kind = SymGlobal
		}
		site := schemas.Location{File: w.m.File, Line: n.Site.Line, Column: n.Site.Col}
		for _, t := range n.Targets {
			if t.Kind == cst.KindIdentifier {
				w.m.declare(t.Name, kind, w.current(), site)
			}
		}
		w.reads(n.Value)
		for _, b := range n.Body {
			w.walk(b)
		}

	case cst.KindIf, cst.KindWhile:
		w.reads(n.Cond)
		for _, b := range n.Body {
			w.walk(b)
		}
		for _, b := range n.OrElse {
			w.walk(b)
		}

	case cst.KindTry:
		for _, b := range n.Body {
			w.walk(b)
		}
		for _, h := range n.Handlers {
			for _, b := range h.Body {
				w.walk(b)
			}
		}
		for _, b := range n.OrElse {
			w.walk(b)
		}

	case cst.KindReturn:
		w.reads(n.Value)

	case cst.KindImport, cst.KindImportFrom:
		// Imports are tracked at the model level.

	default:
		w.reads(n)
	}
}

// reads registers every plain identifier read in an expression subtree,
// resolving through the scope stack and declaring unknown names as builtin
// or imported in the current scope.
func (w *symbolWalker) reads(expr *cst.Node) {
	if expr == nil {
		return
	}
	cst.Walk(expr, func(c *cst.Node) bool {
		switch c.Kind {
		case cst.KindIdentifier:
			if _, ok := w.m.Lookup(c.Name, w.current()); !ok {
				kind := SymImported
				if pythonBuiltins[c.Name] {
					kind = SymBuiltin
				}
				site := schemas.Location{File: w.m.File, Line: c.Site.Line, Column: c.Site.Col}
				w.m.declare(c.Name, kind, w.current(), site)
			}
		case cst.KindAttribute:
			return false
		case cst.KindFunctionDef, cst.KindClassDef:
			return false
		}
		return true
	})
}

// --- Phase 3: data-flow edges ---

func (m *Model) collectFlows(root *cst.Node) {
	w := &flowWalker{m: m, stack: []ScopeID{0}}
	for _, stmt := range root.Body {
		w.walk(stmt)
	}
}

type flowWalker struct {
	m     *Model
	stack []ScopeID
}

func (w *flowWalker) current() ScopeID { return w.stack[len(w.stack)-1] }

func (w *flowWalker) walk(n *cst.Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case cst.KindFunctionDef:
		key := fmt.Sprintf("function:%s:%d", n.Name, n.Site.Line)
		scope := w.m.scopeIndex[key]
		w.stack = append(w.stack, scope)
		for _, b := range n.Body {
			w.walk(b)
		}
		w.stack = w.stack[:len(w.stack)-1]

	case cst.KindClassDef:
		key := fmt.Sprintf("class:%s:%d", n.Name, n.Site.Line)
		scope := w.m.scopeIndex[key]
		w.stack = append(w.stack, scope)
		for _, b := range n.Body {
			w.walk(b)
		}
		w.stack = w.stack[:len(w.stack)-1]

	case cst.KindAssign, cst.KindAugAssign:
		w.assignFlows(n)
		w.callFlows(n)

	case cst.KindIf, cst.KindWhile:
		w.callFlows(n.Cond)
		for _, b := range n.Body {
			w.walk(b)
		}
		for _, b := range n.OrElse {
			w.walk(b)
		}

	case cst.KindFor:
		w.callFlows(n.Value)
		for _, b := range n.Body {
			w.walk(b)
		}

	case cst.KindTry:
		for _, b := range n.Body {
			w.walk(b)
		}
		for _, h := range n.Handlers {
			for _, b := range h.Body {
				w.walk(b)
			}
		}
		for _, b := range n.OrElse {
			w.walk(b)
		}

	default:
		w.callFlows(n)
	}
}

// assignFlows links every resolvable symbol read in the right-hand side to
// each identifier target. This covers plain copies, f-string interpolation,
// and sanitizer-wrapped calls alike; the line text rides along as Context.
func (w *flowWalker) assignFlows(n *cst.Node) {
	site := schemas.Location{File: w.m.File, Line: n.Site.Line, Column: n.Site.Col}
	var sources []SymbolID
	for _, name := range cst.Identifiers(n.Value) {
		if strings.Contains(name, ".") {
			continue
		}
		if id, ok := w.m.Lookup(name, w.current()); ok {
			sources = append(sources, id)
		}
	}
	for _, t := range n.Targets {
		if t.Kind != cst.KindIdentifier {
			continue
		}
		tid, ok := w.m.Lookup(t.Name, w.current())
		if !ok {
			continue
		}
		for _, sid := range sources {
			if sid == tid && n.Kind == cst.KindAssign {
				continue
			}
			w.m.Flows = append(w.m.Flows, FlowEdge{
				Source:  sid,
				Target:  tid,
				Kind:    FlowAssignment,
				Site:    site,
				Context: n.Text,
			})
		}
	}
}

// callFlows creates parameter-passing edges for every direct call in the
// subtree: each resolvable identifier argument flows into a synthetic
// callee_param_i symbol, and additionally into the callee's real parameter
// when the callee is defined in this file.
func (w *flowWalker) callFlows(n *cst.Node) {
	if n == nil {
		return
	}
	for _, call := range cst.Calls(n) {
		callee := call.Name
		if callee == "" || strings.Contains(callee, ".") {
			continue
		}
		site := schemas.Location{File: w.m.File, Line: call.Site.Line, Column: call.Site.Col}
		for i, arg := range call.Args {
			for _, name := range cst.Identifiers(arg) {
				if strings.Contains(name, ".") {
					continue
				}
				sid, ok := w.m.Lookup(name, w.current())
				if !ok {
					continue
				}
				synthScope := w.m.ensureScope("function:"+callee, 0)
				synth := w.m.declare(fmt.Sprintf("%s_param_%d", callee, i), SymSynthetic, synthScope, site)
				w.m.Flows = append(w.m.Flows, FlowEdge{
					Source:  sid,
					Target:  synth,
					Kind:    FlowParameterPassing,
					Site:    site,
					Context: call.Text,
				})

				if fn, defined := w.m.Functions[callee]; defined && i < len(fn.Params) {
					if pid, found := w.m.LookupInScope(fn.Params[i], fn.ScopeKey); found {
						w.m.Flows = append(w.m.Flows, FlowEdge{
							Source:  sid,
							Target:  pid,
							Kind:    FlowParameterPassing,
							Site:    site,
							Context: call.Text,
						})
					}
				}
			}
		}
	}
}

// --- Phase 4: branch conditions ---

func (m *Model) collectConditions(root *cst.Node) {
	cst.Walk(root, func(c *cst.Node) bool {
		site := schemas.Location{File: m.File, Line: c.Site.Line, Column: c.Site.Col}
		switch c.Kind {
		case cst.KindIf:
			m.conditions = append(m.conditions, Condition{Kind: schemas.ConditionIf, Expr: condExpr(c.Cond), Site: site})
		case cst.KindWhile:
			m.conditions = append(m.conditions, Condition{Kind: schemas.ConditionWhile, Expr: condExpr(c.Cond), Site: site})
		case cst.KindFor:
			expr := ""
			if len(c.Targets) > 0 && c.Value != nil {
				expr = c.Targets[0].Text + " in " + c.Value.Text
			}
			m.conditions = append(m.conditions, Condition{Kind: schemas.ConditionFor, Expr: expr, Site: site})
		case cst.KindTry:
			m.conditions = append(m.conditions, Condition{Kind: schemas.ConditionTry, Expr: "try", Site: site})
		}
		return true
	})
}

func condExpr(cond *cst.Node) string {
	if cond == nil {
		return "complex_condition"
	}
	return cond.Text
}
