// Package semantic builds the per-file program model the rest of the
// pipeline consumes: symbols and scopes, data-flow edges, and per-function
// control-flow graphs. Entities live in arenas and are addressed by integer
// ids; equality is id equality, never structural.
package semantic

import (
	"fmt"

	"github.com/xkilldash9x/vulntrace/api/schemas"
	"github.com/xkilldash9x/vulntrace/internal/cst"
)

// SymbolID indexes the model's symbol arena.
type SymbolID int

// ScopeID indexes the model's scope arena.
type ScopeID int

// NoSymbol marks an unresolved reference.
const NoSymbol SymbolID = -1

// SymbolKind classifies how a symbol was introduced.
type SymbolKind string

const (
	SymLocal     SymbolKind = "local"
	SymParameter SymbolKind = "parameter"
	SymGlobal    SymbolKind = "global"
	SymBuiltin   SymbolKind = "builtin"
	SymImported  SymbolKind = "imported"
	// SymSynthetic names call-argument carriers like callee_param_0.
	SymSynthetic SymbolKind = "synthetic"
)

// Symbol is one named entity in the file.
type Symbol struct {
	ID    SymbolID
	Name  string
	Kind  SymbolKind
	Scope ScopeID
	Site  schemas.Location
}

// Scope is one lexical region. Keys follow the
// "function:<name>:<line>" / "class:<name>:<line>" convention, with "global"
// at the root.
type Scope struct {
	ID      ScopeID
	Key     string
	Parent  ScopeID
	Symbols []SymbolID
}

// FlowKind classifies a data-flow edge.
type FlowKind string

const (
	FlowAssignment       FlowKind = "assignment"
	FlowParameterPassing FlowKind = "parameter_passing"
	FlowReturn           FlowKind = "return"
)

// FlowEdge is one directed data-flow edge. Context carries the source line
// text of the site so downstream sanitizer matching can inspect what the
// flow travelled through.
type FlowEdge struct {
	Source  SymbolID
	Target  SymbolID
	Kind    FlowKind
	Site    schemas.Location
	Context string
}

// FuncInfo is a function definition discovered in the file.
type FuncInfo struct {
	Name       string
	Site       schemas.Location
	EndLine    int
	Params     []string
	Decorators []string
	ClassName  string
	ScopeKey   string
	Complexity int
	Node       *cst.Node
}

// ClassInfo is a class definition discovered in the file.
type ClassInfo struct {
	Name    string
	Site    schemas.Location
	Bases   []string
	Methods []string
	Node    *cst.Node
}

// Condition is a branch statement relevant to path analysis.
type Condition struct {
	Kind schemas.ConditionKind
	Expr string
	Site schemas.Location
}

// Model is the semantic model of a single file. It is immutable once Build
// returns; all pipeline phases after the barrier only read it.
type Model struct {
	File     string
	Language string
	Root     *cst.Node

	symbols []Symbol
	scopes  []Scope
	Flows   []FlowEdge

	Functions map[string]*FuncInfo
	Classes   map[string]*ClassInfo
	// Imports maps the binding name visible in this file to the imported
	// module path.
	Imports map[string]string

	// CFGs holds one graph per function definition, keyed by function name.
	CFGs map[string]*CFG

	// conditions holds every branch statement in the file ordered by line.
	conditions []Condition

	symbolIndex map[string]SymbolID // scopeKey:name -> id
	scopeIndex  map[string]ScopeID

	Warnings []string
}

func newModel(file, language string, root *cst.Node) *Model {
	m := &Model{
		File:        file,
		Language:    language,
		Root:        root,
		Functions:   make(map[string]*FuncInfo),
		Classes:     make(map[string]*ClassInfo),
		Imports:     make(map[string]string),
		CFGs:        make(map[string]*CFG),
		symbolIndex: make(map[string]SymbolID),
		scopeIndex:  make(map[string]ScopeID),
	}
	m.ensureScope("global", -1)
	return m
}

func (m *Model) ensureScope(key string, parent ScopeID) ScopeID {
	if id, ok := m.scopeIndex[key]; ok {
		return id
	}
	id := ScopeID(len(m.scopes))
	m.scopes = append(m.scopes, Scope{ID: id, Key: key, Parent: parent})
	m.scopeIndex[key] = id
	return id
}

// declare introduces a symbol in a scope, returning the existing id when the
// name is already bound there.
func (m *Model) declare(name string, kind SymbolKind, scope ScopeID, site schemas.Location) SymbolID {
	key := m.scopes[scope].Key + ":" + name
	if id, ok := m.symbolIndex[key]; ok {
		return id
	}
	id := SymbolID(len(m.symbols))
	m.symbols = append(m.symbols, Symbol{ID: id, Name: name, Kind: kind, Scope: scope, Site: site})
	m.symbolIndex[key] = id
	m.scopes[scope].Symbols = append(m.scopes[scope].Symbols, id)
	return id
}

// Symbol returns the arena entry for an id.
func (m *Model) Symbol(id SymbolID) Symbol {
	return m.symbols[id]
}

// Scope returns the arena entry for an id.
func (m *Model) Scope(id ScopeID) Scope {
	return m.scopes[id]
}

// SymbolCount reports the arena size.
func (m *Model) SymbolCount() int { return len(m.symbols) }

// Lookup resolves a name from a starting scope outward to the module scope.
func (m *Model) Lookup(name string, from ScopeID) (SymbolID, bool) {
	for s := from; ; s = m.scopes[s].Parent {
		if id, ok := m.symbolIndex[m.scopes[s].Key+":"+name]; ok {
			return id, true
		}
		if m.scopes[s].Parent < 0 {
			return NoSymbol, false
		}
	}
}

// ScopeByKey resolves a scope key to its arena id.
func (m *Model) ScopeByKey(key string) (ScopeID, bool) {
	id, ok := m.scopeIndex[key]
	return id, ok
}

// LookupInScope resolves a name in exactly one scope, without walking out.
func (m *Model) LookupInScope(name, scopeKey string) (SymbolID, bool) {
	id, ok := m.symbolIndex[scopeKey+":"+name]
	return id, ok
}

// SymbolKey returns the stable cross-component key for a symbol:
// file:scope:name.
func (m *Model) SymbolKey(id SymbolID) string {
	sym := m.symbols[id]
	return fmt.Sprintf("%s:%s:%s", m.File, m.scopes[sym.Scope].Key, sym.Name)
}

// SymbolsNamed returns every symbol carrying the given name, in arena order.
func (m *Model) SymbolsNamed(name string) []Symbol {
	var out []Symbol
	for _, sym := range m.symbols {
		if sym.Name == name {
			out = append(out, sym)
		}
	}
	return out
}

// DependenciesOf returns every flow edge whose target carries the given
// variable name.
func (m *Model) DependenciesOf(name string) []FlowEdge {
	var out []FlowEdge
	for _, f := range m.Flows {
		if m.symbols[f.Target].Name == name {
			out = append(out, f)
		}
	}
	return out
}

// UsesOf returns every flow edge whose source carries the given variable
// name.
func (m *Model) UsesOf(name string) []FlowEdge {
	var out []FlowEdge
	for _, f := range m.Flows {
		if m.symbols[f.Source].Name == name {
			out = append(out, f)
		}
	}
	return out
}

// ConditionsBetween returns every branch condition whose line falls inside
// [from, to], in line order.
func (m *Model) ConditionsBetween(from, to int) []Condition {
	var out []Condition
	for _, c := range m.conditions {
		if c.Site.Line >= from && c.Site.Line <= to {
			out = append(out, c)
		}
	}
	return out
}

// FunctionAt returns the innermost function whose body spans the line.
func (m *Model) FunctionAt(line int) *FuncInfo {
	var best *FuncInfo
	for _, fn := range m.Functions {
		if fn.Site.Line <= line && line <= fn.EndLine {
			if best == nil || fn.Site.Line > best.Site.Line {
				best = fn
			}
		}
	}
	return best
}
