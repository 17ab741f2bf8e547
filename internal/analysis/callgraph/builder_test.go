package callgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulntrace/internal/analysis/semantic"
	"github.com/xkilldash9x/vulntrace/internal/config"
	"github.com/xkilldash9x/vulntrace/internal/ingest"
)

func buildGraph(t *testing.T, sources map[string]string) (*Builder, map[string]*semantic.Model, []*ingest.File) {
	t.Helper()

	var files []*ingest.File
	models := make(map[string]*semantic.Model)
	for path, src := range sources {
		f := &ingest.File{Path: path, Language: "python", Source: []byte(src)}
		m, err := semantic.Build(context.Background(), f, zap.NewNop())
		require.NoError(t, err)
		files = append(files, f)
		models[path] = m
	}

	b := NewBuilder(config.NewDefaultConfig(), zap.NewNop())
	_, err := b.Build(files, models)
	require.NoError(t, err)
	return b, models, files
}

func TestBuildResolvesLocalCalls(t *testing.T) {
	b, _, _ := buildGraph(t, map[string]string{
		"app.py": `
def helper(x):
    return x

def main():
    helper(1)
`,
	})

	g := b.Graph()
	require.Contains(t, g.Functions, "app.main")
	require.Contains(t, g.Functions, "app.helper")

	var found bool
	for _, e := range g.CallEdges {
		if e.Caller == "app.main" && e.Callee == "app.helper" {
			found = true
			assert.Equal(t, "app.py", e.Location.File)
		}
	}
	assert.True(t, found, "expected call edge app.main -> app.helper")
}

func TestCallEdgeEndpointsAreTableEntries(t *testing.T) {
	b, _, _ := buildGraph(t, map[string]string{
		"a.py": `
import b

def run():
    b.work()
    unknown_external()
`,
		"b.py": `
def work():
    pass
`,
	})

	g := b.Graph()
	for _, e := range g.CallEdges {
		assert.Contains(t, g.Functions, e.Caller)
		assert.Contains(t, g.Functions, e.Callee)
	}
}

func TestImportAliasResolution(t *testing.T) {
	b, _, _ := buildGraph(t, map[string]string{
		"util.py": `
def sanitize(v):
    return v
`,
		"main.py": `
from util import sanitize

def main():
    sanitize("x")
`,
	})

	var found bool
	for _, e := range b.Graph().CallEdges {
		if e.Caller == "main.main" && e.Callee == "util.sanitize" {
			found = true
		}
	}
	assert.True(t, found, "expected alias-resolved edge main.main -> util.sanitize")
}

func TestEntryPointsAndUnreachable(t *testing.T) {
	b, _, _ := buildGraph(t, map[string]string{
		"app.py": `
def used():
    pass

def orphan():
    pass

def main():
    used()
`,
	})

	g := b.Graph()
	assert.Contains(t, g.EntryPoints, "app.main")
	assert.Contains(t, g.UnreachableFunctions, "app.orphan")
	assert.NotContains(t, g.UnreachableFunctions, "app.used")
	assert.NotContains(t, g.UnreachableFunctions, "app.main")
}

func TestNoEntryPointsMeansNoUnreachable(t *testing.T) {
	b, _, _ := buildGraph(t, map[string]string{
		"lib.py": `
def alpha():
    beta()

def beta():
    pass
`,
	})

	g := b.Graph()
	assert.Empty(t, g.EntryPoints)
	assert.Empty(t, g.UnreachableFunctions)
}

func TestCycleDetection(t *testing.T) {
	b, _, _ := buildGraph(t, map[string]string{
		"m.py": `
def a():
    b()

def b():
    c()

def c():
    a()
`,
	})

	g := b.Graph()
	require.Len(t, g.Cycles, 1)
	assert.Equal(t, []string{"m.a", "m.b", "m.c", "m.a"}, g.Cycles[0])
}

func TestAcyclicGraphHasNoCycles(t *testing.T) {
	b, _, _ := buildGraph(t, map[string]string{
		"m.py": `
def top():
    middle()

def middle():
    bottom()

def bottom():
    pass
`,
	})

	assert.Empty(t, b.Graph().Cycles)
}

func TestInheritanceEdges(t *testing.T) {
	b, _, _ := buildGraph(t, map[string]string{
		"shapes.py": `
class Base:
    def area(self):
        pass

class Circle(Base):
    def area(self):
        pass
`,
	})

	g := b.Graph()
	require.Contains(t, g.Classes, "shapes.Base")
	require.Contains(t, g.Classes, "shapes.Circle")

	var found bool
	for _, e := range g.DepEdges {
		if e.Source == "shapes.Circle" && e.Target == "shapes.Base" {
			found = true
			assert.Equal(t, "inherits from Base", e.Context)
		}
	}
	assert.True(t, found, "expected inheritance edge Circle -> Base")
}

func TestCallChains(t *testing.T) {
	b, _, _ := buildGraph(t, map[string]string{
		"m.py": `
def main():
    handle()
    shortcut()

def handle():
    execute()

def shortcut():
    execute()

def execute():
    pass
`,
	})

	chains := b.CallChains("m.main", "m.execute")
	require.Len(t, chains, 2)
	assert.Contains(t, chains, []string{"m.main", "m.handle", "m.execute"})
	assert.Contains(t, chains, []string{"m.main", "m.shortcut", "m.execute"})

	assert.Empty(t, b.CallChains("m.execute", "m.main"))
	assert.Empty(t, b.CallChains("m.main", "m.missing"))
}

func TestCallersAndCallees(t *testing.T) {
	b, _, _ := buildGraph(t, map[string]string{
		"m.py": `
def first():
    shared()

def second():
    shared()

def shared():
    pass
`,
	})

	assert.Equal(t, []string{"m.first", "m.second"}, b.Callers("m.shared"))
	assert.Equal(t, []string{"m.shared"}, b.Callees("m.first"))
}
