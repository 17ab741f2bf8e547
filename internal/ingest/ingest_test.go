package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/vulntrace/internal/cst"
)

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "python", DetectLanguage("pkg/app.py"))
	assert.Equal(t, "python", DetectLanguage("APP.PY"))
	assert.Equal(t, "javascript", DetectLanguage("web/index.js"))
	assert.Equal(t, "javascript", DetectLanguage("web/App.jsx"))
	assert.Equal(t, "javascript", DetectLanguage("web/mod.mjs"))
	assert.Equal(t, "", DetectLanguage("README.md"))
	assert.Equal(t, "", DetectLanguage("Makefile"))
}

func TestCollectFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("b.py", "x = 1\n")
	write("a.js", "const x = 1;\n")
	write("notes.txt", "ignored\n")
	write("node_modules/dep/index.js", "ignored\n")
	write(".git/hook.py", "ignored\n")
	write("__pycache__/b.py", "ignored\n")

	files, err := Collect(dir, []string{"python", "javascript"})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "a.js"), files[0].Path)
	assert.Equal(t, filepath.Join(dir, "b.py"), files[1].Path)

	pyOnly, err := Collect(dir, []string{"python"})
	require.NoError(t, err)
	require.Len(t, pyOnly, 1)
	assert.Equal(t, "python", pyOnly[0].Language)
}

func TestParseAttachesRoot(t *testing.T) {
	f := &File{Path: "app.py", Language: "python", Source: []byte("x = 1\n")}
	require.NoError(t, f.Parse(context.Background()))
	require.NotNil(t, f.Root)
	assert.Equal(t, cst.KindModule, f.Root.Kind)
}

func TestParseUnknownLanguage(t *testing.T) {
	f := &File{Path: "x.cob", Language: "cobol", Source: []byte("DISPLAY 'HI'.")}
	err := f.Parse(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, cst.ErrParse))
}

func TestLineAccess(t *testing.T) {
	f := &File{Source: []byte("a = 1\n  b = 2\n")}
	assert.Equal(t, "a = 1", f.Line(1))
	assert.Equal(t, "b = 2", f.Line(2), "lines are trimmed")
	assert.Equal(t, "", f.Line(0))
	assert.Equal(t, "", f.Line(99))
	assert.Equal(t, 3, f.LineCount())
}
