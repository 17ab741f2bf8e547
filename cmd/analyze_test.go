package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/vulntrace/internal/pipeline"
)

func TestAnalyzeCommandWritesReport(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "app.py")
	require.NoError(t, os.WriteFile(src, []byte("user = input()\ncmd = user\nos.system(cmd)\n"), 0o644))

	out := filepath.Join(t.TempDir(), "report.json")
	root := NewRootCommand()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"analyze", dir, "-o", out})
	require.NoError(t, root.ExecuteContext(context.Background()))

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var result pipeline.Result
	require.NoError(t, json.Unmarshal(data, &result))
	require.Equal(t, []string{src}, result.Files)
	tr := result.Taint[src]
	require.NotNil(t, tr)
	assert.NotEmpty(t, tr.Vulnerabilities)
}

func TestAnalyzeCommandRejectsEmptyTree(t *testing.T) {
	root := NewRootCommand()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"analyze", t.TempDir()})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no analyzable files")
}
