package semantic

import (
	"sort"

	"github.com/xkilldash9x/vulntrace/internal/cst"
)

// NodeID indexes a CFG's node arena.
type NodeID int

const noNode NodeID = -1

// CFGKind classifies control-flow nodes.
type CFGKind string

const (
	CFGEntry     CFGKind = "entry"
	CFGExit      CFGKind = "exit"
	CFGStatement CFGKind = "statement"
	CFGCondition CFGKind = "condition"
	CFGLoop      CFGKind = "loop"
	CFGJoin      CFGKind = "join"
)

// CFGNode is one node of a function's control-flow graph.
type CFGNode struct {
	ID    NodeID
	Kind  CFGKind
	Line  int
	Text  string
	Preds []NodeID
	Succs []NodeID
}

// CFG is the control-flow graph of one function body (or the module's
// top-level statement sequence). Branches reconverge at synthesized join
// nodes so that postdominance is well defined.
type CFG struct {
	FuncName string
	Entry    NodeID
	Exit     NodeID

	nodes []*CFGNode

	// ctrlDeps maps a statement line to the branch lines it is control
	// dependent on, computed from the postdominator structure.
	ctrlDeps map[int][]int
}

// Nodes returns the node arena.
func (g *CFG) Nodes() []*CFGNode { return g.nodes }

// Node returns the arena entry for an id.
func (g *CFG) Node(id NodeID) *CFGNode { return g.nodes[id] }

func (g *CFG) add(kind CFGKind, line int, text string) NodeID {
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, &CFGNode{ID: id, Kind: kind, Line: line, Text: text})
	return id
}

func (g *CFG) link(from, to NodeID) {
	if from == noNode || to == noNode {
		return
	}
	g.nodes[from].Succs = append(g.nodes[from].Succs, to)
	g.nodes[to].Preds = append(g.nodes[to].Preds, from)
}

// ControlDepLines returns the branch lines the given statement line is
// control dependent on, sorted ascending.
func (g *CFG) ControlDepLines(line int) []int {
	return g.ctrlDeps[line]
}

// --- construction ---

func (m *Model) buildCFGs() {
	for name, fn := range m.Functions {
		g := buildCFG(name, fn.Node.Body)
		g.computeControlDeps()
		m.CFGs[name] = g
	}
	// The module's top level executes like a function body.
	module := buildCFG("__module__", m.Root.Body)
	module.computeControlDeps()
	m.CFGs["__module__"] = module
}

func buildCFG(name string, body []*cst.Node) *CFG {
	g := &CFG{FuncName: name, ctrlDeps: make(map[int][]int)}
	g.Entry = g.add(CFGEntry, 0, "")

	b := &cfgBuilder{g: g, current: g.Entry}
	b.sequence(body)

	g.Exit = g.add(CFGExit, 0, "")
	g.link(b.current, g.Exit)
	for _, ret := range b.returns {
		g.link(ret, g.Exit)
	}
	return g
}

type cfgBuilder struct {
	g       *CFG
	current NodeID
	returns []NodeID
}

func (b *cfgBuilder) sequence(body []*cst.Node) {
	for _, stmt := range body {
		b.statement(stmt)
	}
}

func (b *cfgBuilder) statement(n *cst.Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case cst.KindFunctionDef, cst.KindClassDef:
		// Nested definitions get their own graphs; the definition statement
		// itself is a plain node here.
		node := b.g.add(CFGStatement, n.Site.Line, n.Text)
		b.g.link(b.current, node)
		b.current = node

	case cst.KindIf:
		cond := b.g.add(CFGCondition, n.Site.Line, n.Text)
		b.g.link(b.current, cond)

		b.current = cond
		b.sequence(n.Body)
		thenEnd := b.current

		b.current = cond
		b.sequence(n.OrElse)
		elseEnd := b.current

		join := b.g.add(CFGJoin, n.Site.EndLine, "")
		b.g.link(thenEnd, join)
		if elseEnd != thenEnd {
			b.g.link(elseEnd, join)
		}
		b.current = join

	case cst.KindWhile, cst.KindFor:
		loop := b.g.add(CFGLoop, n.Site.Line, n.Text)
		b.g.link(b.current, loop)

		b.current = loop
		b.sequence(n.Body)
		// Back edge, then fall through past the loop.
		b.g.link(b.current, loop)
		b.current = loop

	case cst.KindTry:
		try := b.g.add(CFGCondition, n.Site.Line, n.Text)
		b.g.link(b.current, try)

		b.current = try
		b.sequence(n.Body)
		bodyEnd := b.current

		join := b.g.add(CFGJoin, n.Site.EndLine, "")
		b.g.link(bodyEnd, join)
		for _, h := range n.Handlers {
			b.current = try
			b.sequence(h.Body)
			b.g.link(b.current, join)
		}
		b.current = join
		b.sequence(n.OrElse)

	case cst.KindReturn:
		node := b.g.add(CFGStatement, n.Site.Line, n.Text)
		b.g.link(b.current, node)
		b.returns = append(b.returns, node)
		// Statements after a return are unreachable; start a fresh node
		// chain anchored nowhere.
		b.current = noNode

	default:
		node := b.g.add(CFGStatement, n.Site.Line, n.Text)
		b.g.link(b.current, node)
		b.current = node
	}
}

// --- postdominance and control dependence ---

// computeControlDeps derives control dependences from the postdominator
// sets: a node X is control dependent on a branch C when some successor of
// C is (post)dominated by X while C itself is not strictly postdominated
// by X.
func (g *CFG) computeControlDeps() {
	n := len(g.nodes)
	if n == 0 {
		return
	}

	// Iterative postdominator sets over the reverse graph, seeded from the
	// exit node. Graphs here are per-function and small.
	pdom := make([]map[NodeID]bool, n)
	all := make(map[NodeID]bool, n)
	for i := 0; i < n; i++ {
		all[NodeID(i)] = true
	}
	for i := 0; i < n; i++ {
		if NodeID(i) == g.Exit {
			pdom[i] = map[NodeID]bool{g.Exit: true}
		} else {
			pdom[i] = all
		}
	}

	changed := true
	for changed {
		changed = false
		for i := n - 1; i >= 0; i-- {
			id := NodeID(i)
			if id == g.Exit {
				continue
			}
			node := g.nodes[i]
			next := map[NodeID]bool{id: true}
			if len(node.Succs) > 0 {
				inter := intersectPdoms(pdom, node.Succs)
				for k := range inter {
					next[k] = true
				}
			}
			if !sameSet(pdom[i], next) {
				pdom[i] = next
				changed = true
			}
		}
	}

	for _, c := range g.nodes {
		if len(c.Succs) < 2 {
			continue
		}
		if c.Kind != CFGCondition && c.Kind != CFGLoop {
			continue
		}
		dependents := make(map[NodeID]bool)
		for _, s := range c.Succs {
			for x := range pdom[s] {
				// Strict postdomination of the branch itself disqualifies.
				if x != c.ID && pdom[c.ID][x] {
					continue
				}
				if x == c.ID {
					continue
				}
				dependents[x] = true
			}
		}
		for x := range dependents {
			line := g.nodes[x].Line
			if line == 0 || c.Line == 0 {
				continue
			}
			g.ctrlDeps[line] = append(g.ctrlDeps[line], c.Line)
		}
	}

	for line := range g.ctrlDeps {
		deps := g.ctrlDeps[line]
		sort.Ints(deps)
		g.ctrlDeps[line] = dedupeInts(deps)
	}
}

func intersectPdoms(pdom []map[NodeID]bool, ids []NodeID) map[NodeID]bool {
	out := make(map[NodeID]bool, len(pdom[ids[0]]))
	for k := range pdom[ids[0]] {
		out[k] = true
	}
	for _, id := range ids[1:] {
		for k := range out {
			if !pdom[id][k] {
				delete(out, k)
			}
		}
	}
	return out
}

func sameSet(a, b map[NodeID]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func dedupeInts(sorted []int) []int {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// ControlDepsForLine unions control dependences for a line across every
// graph in the model, sorted ascending.
func (m *Model) ControlDepsForLine(line int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, g := range m.CFGs {
		for _, dep := range g.ControlDepLines(line) {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
			}
		}
	}
	sort.Ints(out)
	return out
}
