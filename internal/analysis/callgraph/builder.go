// Package callgraph merges per-file semantic models into a project-wide
// call graph: a definition table keyed by qualified name, resolved call
// edges, inheritance edges, entry points, reachability, and cycles.
package callgraph

import (
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vulntrace/api/schemas"
	"github.com/xkilldash9x/vulntrace/internal/analysis/semantic"
	"github.com/xkilldash9x/vulntrace/internal/config"
	"github.com/xkilldash9x/vulntrace/internal/cst"
	"github.com/xkilldash9x/vulntrace/internal/ingest"
)

// Builder constructs the merged call graph. It keeps the per-file models
// around after Build so the path validator can enumerate call chains.
type Builder struct {
	cfg config.Interface
	log *zap.Logger

	functions map[string]schemas.FunctionNode
	classes   map[string]schemas.ClassNode
	// imports maps file path -> binding name -> imported dotted path.
	imports map[string]map[string]string
	// moduleNames maps file path -> dotted module name.
	moduleNames map[string]string

	// adjacency maps caller qualified name -> outgoing edges, ordered by
	// callee then line so chain enumeration is deterministic.
	adjacency map[string][]schemas.CallEdge

	graph *schemas.CallGraph
}

// NewBuilder returns a Builder wired to the analyzer configuration.
func NewBuilder(cfg config.Interface, logger *zap.Logger) *Builder {
	return &Builder{
		cfg:         cfg,
		log:         logger.Named("callgraph"),
		functions:   make(map[string]schemas.FunctionNode),
		classes:     make(map[string]schemas.ClassNode),
		imports:     make(map[string]map[string]string),
		moduleNames: make(map[string]string),
		adjacency:   make(map[string][]schemas.CallEdge),
	}
}

// moduleName derives the dotted module name from a file path:
// pkg/app/views.py becomes pkg.app.views.
func moduleName(path string) string {
	trimmed := strings.TrimSuffix(path, filepath.Ext(path))
	trimmed = strings.TrimPrefix(trimmed, "./")
	return strings.ReplaceAll(filepath.ToSlash(trimmed), "/", ".")
}

// Build runs the five phases over the per-file models. Models carry the
// definitions and imports the semantic pass already extracted; this pass
// only merges and resolves. Files are needed for the __main__ guard check.
func (b *Builder) Build(files []*ingest.File, models map[string]*semantic.Model) (*schemas.CallGraph, error) {
	paths := make([]string, 0, len(models))
	for path := range models {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	// Phase 1: merge definitions under qualified names.
	for _, path := range paths {
		b.extractDefinitions(path, models[path])
	}

	// Phase 2: import alias maps.
	for _, path := range paths {
		b.imports[path] = models[path].Imports
	}

	// Phase 3: resolve call sites.
	var callEdges []schemas.CallEdge
	for _, path := range paths {
		callEdges = append(callEdges, b.resolveCalls(path, models[path])...)
	}

	// Phase 4: inheritance edges between classes.
	depEdges := b.classDependencies()

	// Phase 5: entry points, reachability, cycles.
	for _, e := range callEdges {
		b.adjacency[e.Caller] = append(b.adjacency[e.Caller], e)
	}
	for caller := range b.adjacency {
		edges := b.adjacency[caller]
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].Callee != edges[j].Callee {
				return edges[i].Callee < edges[j].Callee
			}
			return edges[i].Location.Line < edges[j].Location.Line
		})
	}

	entryPoints := b.findEntryPoints(files)
	unreachable := b.findUnreachable(entryPoints)
	cycles := b.findCycles()

	b.graph = &schemas.CallGraph{
		Functions:            b.functions,
		Classes:              b.classes,
		CallEdges:            callEdges,
		DepEdges:             depEdges,
		EntryPoints:          entryPoints,
		UnreachableFunctions: unreachable,
		Cycles:               cycles,
	}

	b.log.Info("call graph built",
		zap.Int("functions", len(b.functions)),
		zap.Int("classes", len(b.classes)),
		zap.Int("call_edges", len(callEdges)),
		zap.Int("dependency_edges", len(depEdges)),
		zap.Int("entry_points", len(entryPoints)))

	return b.graph, nil
}

// Graph returns the result of the last Build.
func (b *Builder) Graph() *schemas.CallGraph { return b.graph }

// --- phase 1: definitions ---

func (b *Builder) extractDefinitions(path string, m *semantic.Model) {
	module := moduleName(path)
	b.moduleNames[path] = module

	classNames := make([]string, 0, len(m.Classes))
	for name := range m.Classes {
		classNames = append(classNames, name)
	}
	sort.Strings(classNames)
	for _, name := range classNames {
		ci := m.Classes[name]
		qualified := module + "." + name
		b.classes[qualified] = schemas.ClassNode{
			Name:          name,
			QualifiedName: qualified,
			Location:      ci.Site,
			BaseClasses:   ci.Bases,
		}
	}

	fnNames := make([]string, 0, len(m.Functions))
	for name := range m.Functions {
		fnNames = append(fnNames, name)
	}
	sort.Strings(fnNames)
	for _, name := range fnNames {
		fn := m.Functions[name]
		var qualified string
		if fn.ClassName != "" {
			qualified = module + "." + fn.ClassName + "." + fn.Name
		} else {
			qualified = module + "." + fn.Name
		}
		b.functions[qualified] = schemas.FunctionNode{
			Name:          fn.Name,
			QualifiedName: qualified,
			Location:      fn.Site,
			IsMethod:      fn.ClassName != "",
			ClassName:     fn.ClassName,
			Parameters:    fn.Params,
			Decorators:    fn.Decorators,
			Complexity:    fn.Complexity,
		}
		if fn.ClassName != "" {
			classQualified := module + "." + fn.ClassName
			if cn, ok := b.classes[classQualified]; ok {
				cn.Methods = append(cn.Methods, qualified)
				b.classes[classQualified] = cn
			}
		}
	}
}

// --- phase 3: call resolution ---

func (b *Builder) resolveCalls(path string, m *semantic.Model) []schemas.CallEdge {
	module := b.moduleNames[path]
	var edges []schemas.CallEdge

	fnNames := make([]string, 0, len(m.Functions))
	for name := range m.Functions {
		fnNames = append(fnNames, name)
	}
	sort.Strings(fnNames)

	for _, name := range fnNames {
		fn := m.Functions[name]
		var caller string
		if fn.ClassName != "" {
			caller = module + "." + fn.ClassName + "." + fn.Name
		} else {
			caller = module + "." + fn.Name
		}
		for _, call := range cst.Calls(fn.Node) {
			if call.Name == "" {
				continue
			}
			callee, kind := b.resolveCallee(call.Name, path)
			if callee == "" {
				continue
			}
			edges = append(edges, schemas.CallEdge{
				Caller:    caller,
				Callee:    callee,
				Kind:      kind,
				Location:  schemas.Location{File: path, Line: call.Site.Line, Column: call.Site.Col},
				Arguments: callArguments(call),
			})
		}
	}
	return edges
}

func callArguments(call *cst.Node) []string {
	var args []string
	for _, a := range call.Args {
		if a.Kind == cst.KindIdentifier {
			args = append(args, a.Name)
		} else {
			args = append(args, strings.TrimSpace(a.Text))
		}
	}
	return args
}

// resolveCallee maps a call-site name to a qualified function, trying local
// definitions, then import aliases, then any class method of the same name.
// Unresolvable names return "" and the call site is dropped.
func (b *Builder) resolveCallee(name, path string) (string, schemas.CallKind) {
	kind := schemas.CallDirect
	if strings.Contains(name, ".") {
		kind = schemas.CallMethod
		if strings.HasPrefix(name, "super.") {
			kind = schemas.CallSuper
		}
	}

	module := b.moduleNames[path]
	if _, ok := b.functions[module+"."+name]; ok {
		return module + "." + name, kind
	}

	fileImports := b.imports[path]
	if imported, ok := fileImports[name]; ok {
		if _, found := b.functions[imported]; found {
			return imported, kind
		}
	}

	// obj.method where the receiver is an imported module binding.
	if dot := strings.Index(name, "."); dot > 0 {
		base, rest := name[:dot], name[dot+1:]
		if imported, ok := fileImports[base]; ok {
			if _, found := b.functions[imported+"."+rest]; found {
				return imported + "." + rest, kind
			}
		}
		// Last resort: any class carrying a method of this name. Classes are
		// scanned in sorted order so resolution is stable.
		parts := strings.Split(name, ".")
		methodName := parts[len(parts)-1]
		classNames := make([]string, 0, len(b.classes))
		for q := range b.classes {
			classNames = append(classNames, q)
		}
		sort.Strings(classNames)
		for _, q := range classNames {
			for _, method := range b.classes[q].Methods {
				if b.functions[method].Name == methodName {
					return method, kind
				}
			}
		}
	}

	return "", kind
}

// --- phase 4: class dependencies ---

func (b *Builder) classDependencies() []schemas.DependencyEdge {
	var edges []schemas.DependencyEdge

	qualified := make([]string, 0, len(b.classes))
	for q := range b.classes {
		qualified = append(qualified, q)
	}
	sort.Strings(qualified)

	for _, q := range qualified {
		cn := b.classes[q]
		file := cn.Location.File
		for _, base := range cn.BaseClasses {
			target := b.resolveClass(base, file)
			if target == "" {
				continue
			}
			edges = append(edges, schemas.DependencyEdge{
				Source:   q,
				Target:   target,
				Kind:     schemas.DependencyInheritance,
				Location: cn.Location,
				Context:  "inherits from " + base,
			})
		}
	}
	return edges
}

func (b *Builder) resolveClass(name, path string) string {
	module := b.moduleNames[path]
	if _, ok := b.classes[module+"."+name]; ok {
		return module + "." + name
	}
	if imported, ok := b.imports[path][name]; ok {
		if _, found := b.classes[imported]; found {
			return imported
		}
	}
	return ""
}

// --- phase 5: entry points, reachability, cycles ---

var mainGuards = []string{`__name__ == "__main__"`, `__name__ == '__main__'`}

func (b *Builder) findEntryPoints(files []*ingest.File) []string {
	guarded := make(map[string]bool, len(files))
	for _, f := range files {
		src := string(f.Source)
		for _, guard := range mainGuards {
			if strings.Contains(src, guard) {
				guarded[f.Path] = true
				break
			}
		}
	}

	var entries []string
	for q, fn := range b.functions {
		if fn.Name == "main" || fn.Name == "__main__" || guarded[fn.Location.File] {
			entries = append(entries, q)
		}
	}
	sort.Strings(entries)
	return entries
}

// findUnreachable walks forward from the entry points. With no entry points
// there is nothing to measure against, so nothing is reported unreachable.
func (b *Builder) findUnreachable(entryPoints []string) []string {
	if len(entryPoints) == 0 {
		return nil
	}

	reachable := make(map[string]bool)
	worklist := append([]string(nil), entryPoints...)
	for len(worklist) > 0 {
		current := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if reachable[current] {
			continue
		}
		reachable[current] = true
		for _, e := range b.adjacency[current] {
			if !reachable[e.Callee] {
				worklist = append(worklist, e.Callee)
			}
		}
	}

	var unreachable []string
	for q := range b.functions {
		if !reachable[q] {
			unreachable = append(unreachable, q)
		}
	}
	sort.Strings(unreachable)
	return unreachable
}

// findCycles reports each cycle as the closed walk that discovered it, with
// the entry node repeated at the end: [A B C A].
func (b *Builder) findCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var path []string
	var dfs func(node string)
	dfs = func(node string) {
		if onStack[node] {
			for i, p := range path {
				if p == node {
					cycle := append(append([]string(nil), path[i:]...), node)
					cycles = append(cycles, cycle)
					return
				}
			}
			return
		}
		if visited[node] {
			return
		}
		visited[node] = true
		onStack[node] = true
		path = append(path, node)

		for _, e := range b.adjacency[node] {
			dfs(e.Callee)
		}

		path = path[:len(path)-1]
		onStack[node] = false
	}

	names := make([]string, 0, len(b.functions))
	for q := range b.functions {
		names = append(names, q)
	}
	sort.Strings(names)
	for _, q := range names {
		if !visited[q] {
			dfs(q)
		}
	}
	return cycles
}

// --- lookups used by later phases ---

// Callers returns the qualified names of functions that call target.
func (b *Builder) Callers(target string) []string {
	if b.graph == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, e := range b.graph.CallEdges {
		if e.Callee == target && !seen[e.Caller] {
			seen[e.Caller] = true
			out = append(out, e.Caller)
		}
	}
	sort.Strings(out)
	return out
}

// Callees returns the qualified names of functions called by source.
func (b *Builder) Callees(source string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range b.adjacency[source] {
		if !seen[e.Callee] {
			seen[e.Callee] = true
			out = append(out, e.Callee)
		}
	}
	sort.Strings(out)
	return out
}

// CallChains enumerates every acyclic call chain from one function to
// another, each chain including both endpoints. Depth is bounded by the
// configured max call depth.
func (b *Builder) CallChains(from, to string) [][]string {
	if _, ok := b.functions[from]; !ok {
		return nil
	}
	if _, ok := b.functions[to]; !ok {
		return nil
	}
	maxDepth := b.cfg.Analyzer().MaxCallDepth

	var chains [][]string
	visited := make(map[string]bool)
	var path []string

	var dfs func(current string)
	dfs = func(current string) {
		if current == to {
			chains = append(chains, append([]string(nil), path...))
			return
		}
		if len(path) > maxDepth || visited[current] {
			return
		}
		visited[current] = true
		for _, e := range b.adjacency[current] {
			path = append(path, e.Callee)
			dfs(e.Callee)
			path = path[:len(path)-1]
		}
		visited[current] = false
	}

	path = []string{from}
	dfs(from)
	return chains
}
