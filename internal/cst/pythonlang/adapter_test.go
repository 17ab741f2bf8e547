package pythonlang

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/vulntrace/internal/cst"
)

func parse(t *testing.T, src string) *cst.Node {
	t.Helper()
	root, err := New().Parse(context.Background(), []byte(src))
	require.NoError(t, err)
	require.NotNil(t, root)
	return root
}

func TestParseModuleShape(t *testing.T) {
	root := parse(t, `import os
from util import sanitize as clean

def greet(name):
    msg = f"hello {name}"
    return msg

if flag and other:
    os.system(cmd)
`)

	require.Equal(t, cst.KindModule, root.Kind)
	require.Len(t, root.Body, 4)

	imp := root.Body[0]
	assert.Equal(t, cst.KindImport, imp.Kind)
	require.Len(t, imp.Names, 1)
	assert.Equal(t, "os", imp.Names[0].Effective())

	from := root.Body[1]
	assert.Equal(t, cst.KindImportFrom, from.Kind)
	assert.Equal(t, "util", from.Module)
	require.Len(t, from.Names, 1)
	assert.Equal(t, "sanitize", from.Names[0].Name)
	assert.Equal(t, "clean", from.Names[0].Effective())

	fn := root.Body[2]
	assert.Equal(t, cst.KindFunctionDef, fn.Kind)
	assert.Equal(t, "greet", fn.Name)
	assert.Equal(t, []string{"name"}, fn.Params)
	assert.Equal(t, 4, fn.Site.Line)
	assert.Equal(t, 6, fn.Site.EndLine)

	cond := root.Body[3]
	assert.Equal(t, cst.KindIf, cond.Kind)
	assert.Equal(t, []string{"flag", "other"}, cst.Identifiers(cond.Cond))
}

func TestParseFStringInterpolation(t *testing.T) {
	root := parse(t, `msg = f"hello {name}"
`)

	require.Len(t, root.Body, 1)
	assign := root.Body[0]
	require.Equal(t, cst.KindAssign, assign.Kind)
	require.Len(t, assign.Targets, 1)
	assert.Equal(t, "msg", assign.Targets[0].Name)

	require.NotNil(t, assign.Value)
	assert.Equal(t, cst.KindFString, assign.Value.Kind)
	assert.Equal(t, []string{"name"}, cst.Identifiers(assign.Value))
}

func TestParseDottedCallPath(t *testing.T) {
	root := parse(t, `os.system(cmd)
subprocess.check_output([cmd], shell=True)
`)

	calls := cst.Calls(root)
	require.Len(t, calls, 2)
	assert.Equal(t, "os.system", calls[0].Name)
	assert.Equal(t, 1, calls[0].Site.Line)
	require.Len(t, calls[0].Args, 1)
	assert.Equal(t, "cmd", calls[0].Args[0].Name)

	// Keyword arguments contribute their value expression.
	assert.Equal(t, "subprocess.check_output", calls[1].Name)
	assert.Len(t, calls[1].Args, 2)
}

func TestParseTupleAssignmentTargets(t *testing.T) {
	root := parse(t, `a, b = input(), other
`)

	require.Len(t, root.Body, 1)
	assign := root.Body[0]
	require.Equal(t, cst.KindAssign, assign.Kind)
	require.Len(t, assign.Targets, 2)
	assert.Equal(t, "a", assign.Targets[0].Name)
	assert.Equal(t, "b", assign.Targets[1].Name)
}

func TestParseElifBecomesNestedIf(t *testing.T) {
	root := parse(t, `if a:
    x = 1
elif b:
    x = 2
else:
    x = 3
`)

	require.Len(t, root.Body, 1)
	cond := root.Body[0]
	require.Equal(t, cst.KindIf, cond.Kind)
	require.Len(t, cond.OrElse, 2)
	assert.Equal(t, cst.KindIf, cond.OrElse[0].Kind)
	assert.Equal(t, cst.KindAssign, cond.OrElse[1].Kind)
}

func TestParseSyntaxErrorWrapsErrParse(t *testing.T) {
	_, err := New().Parse(context.Background(), []byte("def broken(:\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, cst.ErrParse))
}
