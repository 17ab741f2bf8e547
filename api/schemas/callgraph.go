package schemas

// CallKind classifies how a call site invokes its callee.
type CallKind string

const (
	CallDirect      CallKind = "direct"
	CallMethod      CallKind = "method"
	CallConstructor CallKind = "constructor"
	CallSuper       CallKind = "super"
	CallDynamic     CallKind = "dynamic"
)

// DependencyKind classifies class-to-class dependency edges.
type DependencyKind string

const (
	DependencyInheritance DependencyKind = "inheritance"
	DependencyImport      DependencyKind = "import"
	DependencyUsage       DependencyKind = "usage"
)

// FunctionNode is the definition-site identity of a function or method.
// Identity is the qualified name (module.class.function), never pointer
// identity; a project snapshot contains exactly one node per qualified name.
type FunctionNode struct {
	Name          string   `json:"name"`
	QualifiedName string   `json:"qualified_name"`
	Location      Location `json:"location"`
	IsMethod      bool     `json:"is_method"`
	ClassName     string   `json:"class_name,omitempty"`
	Parameters    []string `json:"parameters,omitempty"`
	Decorators    []string `json:"decorators,omitempty"`
	// Complexity is the cyclomatic complexity of the definition body.
	Complexity int `json:"complexity"`
}

// ClassNode is the definition-site identity of a class.
type ClassNode struct {
	Name          string   `json:"name"`
	QualifiedName string   `json:"qualified_name"`
	Location      Location `json:"location"`
	BaseClasses   []string `json:"base_classes,omitempty"`
	// Methods holds the qualified names of member functions.
	Methods []string `json:"methods,omitempty"`
}

// CallEdge records one resolved call relationship. Both Caller and Callee
// are guaranteed to be keys of the owning CallGraph's Functions table;
// call sites whose callee cannot be resolved are dropped, not synthesized.
type CallEdge struct {
	Caller   string   `json:"caller"`
	Callee   string   `json:"callee"`
	Kind     CallKind `json:"kind"`
	Location Location `json:"location"`
	// Arguments are best-effort textual descriptors of the actual arguments.
	Arguments []string `json:"arguments,omitempty"`
}

// DependencyEdge records a class-level dependency (currently inheritance).
type DependencyEdge struct {
	Source   string         `json:"source"`
	Target   string         `json:"target"`
	Kind     DependencyKind `json:"kind"`
	Location Location       `json:"location"`
	Context  string         `json:"context,omitempty"`
}

// CallGraph is the merged, project-wide call graph. After the build barrier
// it is immutable; the resolution and reachability phases only read it.
type CallGraph struct {
	Functions map[string]FunctionNode `json:"functions"`
	Classes   map[string]ClassNode    `json:"classes"`
	CallEdges []CallEdge              `json:"call_edges"`
	DepEdges  []DependencyEdge        `json:"dependency_edges"`
	// EntryPoints, UnreachableFunctions and Cycles are sorted by qualified
	// name for deterministic output.
	EntryPoints          []string   `json:"entry_points"`
	UnreachableFunctions []string   `json:"unreachable_functions"`
	Cycles               [][]string `json:"cycles"`
	Warnings             []string   `json:"warnings,omitempty"`
}
