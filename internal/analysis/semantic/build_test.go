package semantic

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulntrace/api/schemas"
	"github.com/xkilldash9x/vulntrace/internal/ingest"
)

func model(t *testing.T, src string) *Model {
	t.Helper()
	f := &ingest.File{Path: "app.py", Language: "python", Source: []byte(src)}
	m, err := Build(context.Background(), f, zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestCollectDefinitions(t *testing.T) {
	m := model(t, `import os
from helpers import fetch as get

class Greeter(Base):
    def greet(self, name):
        return name

def main():
    x = 1
`)

	greet := m.Functions["greet"]
	require.NotNil(t, greet)
	assert.Equal(t, "Greeter", greet.ClassName)
	assert.Equal(t, "function:greet:5", greet.ScopeKey)
	assert.Equal(t, []string{"self", "name"}, greet.Params)
	assert.Equal(t, 5, greet.Site.Line)

	main := m.Functions["main"]
	require.NotNil(t, main)
	assert.Equal(t, "", main.ClassName)
	assert.Equal(t, 1, main.Complexity)

	cls := m.Classes["Greeter"]
	require.NotNil(t, cls)
	assert.Equal(t, []string{"Base"}, cls.Bases)
	assert.Equal(t, []string{"greet"}, cls.Methods)

	wantImports := map[string]string{"os": "os", "get": "helpers.fetch"}
	if diff := cmp.Diff(wantImports, m.Imports); diff != "" {
		t.Fatalf("imports mismatch (-want +got):\n%s", diff)
	}

	assert.Contains(t, m.CFGs, "__module__")
	assert.Contains(t, m.CFGs, "greet")
	assert.Contains(t, m.CFGs, "main")
}

func TestAssignmentFlowEdges(t *testing.T) {
	m := model(t, `user = input()
cmd = user
`)

	deps := m.DependenciesOf("cmd")
	require.Len(t, deps, 1)
	edge := deps[0]
	assert.Equal(t, "user", m.Symbol(edge.Source).Name)
	assert.Equal(t, FlowAssignment, edge.Kind)
	assert.Equal(t, "cmd = user", edge.Context)
	assert.Equal(t, 2, edge.Site.Line)

	uses := m.UsesOf("user")
	require.Len(t, uses, 1)
	assert.Equal(t, "cmd", m.Symbol(uses[0].Target).Name)
}

func TestParameterPassingFlows(t *testing.T) {
	m := model(t, `def f(x):
    return x

a = input()
f(a)
`)

	synth := m.DependenciesOf("f_param_0")
	require.Len(t, synth, 1)
	assert.Equal(t, "a", m.Symbol(synth[0].Source).Name)
	assert.Equal(t, FlowParameterPassing, synth[0].Kind)
	assert.Equal(t, 5, synth[0].Site.Line)

	// The callee is defined here, so the argument also reaches the real
	// parameter symbol.
	pid, ok := m.LookupInScope("x", "function:f:1")
	require.True(t, ok)
	assert.Equal(t, SymParameter, m.Symbol(pid).Kind)

	var reachedParam bool
	for _, edge := range m.DependenciesOf("x") {
		if m.Symbol(edge.Source).Name == "a" {
			reachedParam = true
		}
	}
	assert.True(t, reachedParam, "argument should flow into the defined parameter")
}

func TestFStringInterpolationFlows(t *testing.T) {
	m := model(t, `user_id = input()
query = f"SELECT * FROM t WHERE id={user_id}"
`)

	deps := m.DependenciesOf("query")
	require.Len(t, deps, 1)
	assert.Equal(t, "user_id", m.Symbol(deps[0].Source).Name)
}

func TestConditionsBetween(t *testing.T) {
	m := model(t, `x = 1
if x:
    y = 2
for i in items:
    z = 3
try:
    w = 4
except Exception:
    pass
`)

	all := m.ConditionsBetween(1, 9)
	require.Len(t, all, 3)
	assert.Equal(t, schemas.ConditionIf, all[0].Kind)
	assert.Equal(t, 2, all[0].Site.Line)
	assert.Equal(t, schemas.ConditionFor, all[1].Kind)
	assert.Equal(t, "i in items", all[1].Expr)
	assert.Equal(t, schemas.ConditionTry, all[2].Kind)

	window := m.ConditionsBetween(3, 5)
	require.Len(t, window, 1)
	assert.Equal(t, schemas.ConditionFor, window[0].Kind)
}

func TestFunctionAt(t *testing.T) {
	m := model(t, `def outer():
    a = 1

b = 2
`)

	fn := m.FunctionAt(2)
	require.NotNil(t, fn)
	assert.Equal(t, "outer", fn.Name)
	assert.Nil(t, m.FunctionAt(4))
}

func TestControlDependence(t *testing.T) {
	m := model(t, `user = input()
if user:
    os.system(user)
done = 1
`)

	assert.Equal(t, []int{2}, m.ControlDepsForLine(3))
	assert.Empty(t, m.ControlDepsForLine(4), "statements after the join are not branch dependent")
	assert.Empty(t, m.ControlDepsForLine(1))
}

func TestLookupWalksOutToGlobal(t *testing.T) {
	m := model(t, `g = 1
def f():
    return g
`)

	scope, ok := m.ScopeByKey("function:f:2")
	require.True(t, ok)
	id, found := m.Lookup("g", scope)
	require.True(t, found)
	assert.Equal(t, SymGlobal, m.Symbol(id).Kind)
	assert.Equal(t, "app.py:global:g", m.SymbolKey(id))
}

func TestMalformedFileWrapsParseError(t *testing.T) {
	f := &ingest.File{Path: "bad.py", Language: "python", Source: []byte("def broken(:\n")}
	_, err := Build(context.Background(), f, zap.NewNop())
	require.Error(t, err)
}
