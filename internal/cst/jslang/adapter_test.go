package jslang

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
	root := parse(t, `import { exec as run } from "child_process";
const user = source();
function handle(input) {
  if (user) {
    run(input);
  }
  return input;
}
`)

	require.Equal(t, cst.KindModule, root.Kind)
	require.Len(t, root.Body, 3)

	imp := root.Body[0]
	assert.Equal(t, cst.KindImportFrom, imp.Kind)
	assert.Equal(t, "child_process", imp.Module)
	require.Len(t, imp.Names, 1)
	assert.Equal(t, "exec", imp.Names[0].Name)
	assert.Equal(t, "run", imp.Names[0].Effective())

	decl := root.Body[1]
	require.Equal(t, cst.KindAssign, decl.Kind)
	require.Len(t, decl.Targets, 1)
	assert.Equal(t, "user", decl.Targets[0].Name)
	require.NotNil(t, decl.Value)
	assert.Equal(t, cst.KindCall, decl.Value.Kind)
	assert.Equal(t, "source", decl.Value.Name)

	fn := root.Body[2]
	require.Equal(t, cst.KindFunctionDef, fn.Kind)
	assert.Equal(t, "handle", fn.Name)
	assert.Equal(t, []string{"input"}, fn.Params)
	require.NotEmpty(t, fn.Body)
	assert.Equal(t, cst.KindIf, fn.Body[0].Kind)
}

func TestParseMemberCallPath(t *testing.T) {
	root := parse(t, `child_process.execSync(cmd);
`)

	calls := cst.Calls(root)
	require.Len(t, calls, 1)
	assert.Equal(t, "child_process.execSync", calls[0].Name)
	require.Len(t, calls[0].Args, 1)
	assert.Equal(t, "cmd", calls[0].Args[0].Name)
}

func TestParseTemplateStringSubstitution(t *testing.T) {
	root := parse(t, "const q = `SELECT * FROM t WHERE id=${id}`;\n")

	require.Len(t, root.Body, 1)
	assign := root.Body[0]
	require.Equal(t, cst.KindAssign, assign.Kind)
	require.NotNil(t, assign.Value)
	assert.Equal(t, cst.KindFString, assign.Value.Kind)
	assert.Equal(t, []string{"id"}, cst.Identifiers(assign.Value))
}

func TestParseFunctionExpressionDeclarator(t *testing.T) {
	root := parse(t, `const handler = function (req) { return req; };
`)

	require.Len(t, root.Body, 1)
	fn := root.Body[0]
	// A declarator holding a function expression surfaces as a definition
	// named after the binding.
	require.Equal(t, cst.KindFunctionDef, fn.Kind)
	assert.Equal(t, "handler", fn.Name)
	assert.Equal(t, []string{"req"}, fn.Params)
}

func TestParseSyntaxErrorWrapsErrParse(t *testing.T) {
	_, err := New().Parse(context.Background(), []byte("function broken( {\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, cst.ErrParse))
}
