// Package ingest collects source files for analysis and attaches their
// parsed syntax trees. It is the only package that knows which language
// adapter serves which file extension.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xkilldash9x/vulntrace/internal/cst"
	"github.com/xkilldash9x/vulntrace/internal/cst/jslang"
	"github.com/xkilldash9x/vulntrace/internal/cst/pythonlang"
)

// File is one source file moving through the pipeline. Root is nil until
// Parse succeeds.
type File struct {
	Path     string
	Language string
	Source   []byte
	Root     *cst.Node

	lines []string
}

var adapters = map[string]cst.Adapter{
	"python":     pythonlang.New(),
	"javascript": jslang.New(),
}

var extLanguages = map[string]string{
	".py":  "python",
	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
}

// AdapterFor returns the adapter registered for a language.
func AdapterFor(language string) (cst.Adapter, bool) {
	a, ok := adapters[language]
	return a, ok
}

// DetectLanguage maps a file path to a supported language, or "".
func DetectLanguage(path string) string {
	return extLanguages[strings.ToLower(filepath.Ext(path))]
}

// Parse attaches the syntax tree. Wraps cst.ErrParse for malformed input so
// callers can skip the file and continue.
func (f *File) Parse(ctx context.Context) error {
	adapter, ok := AdapterFor(f.Language)
	if !ok {
		return fmt.Errorf("%w: no adapter for language %q", cst.ErrParse, f.Language)
	}
	root, err := adapter.Parse(ctx, f.Source)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", f.Path, err)
	}
	f.Root = root
	return nil
}

// Line returns the 1-indexed source line, or "" when out of range.
func (f *File) Line(n int) string {
	if f.lines == nil {
		f.lines = strings.Split(string(f.Source), "\n")
	}
	if n < 1 || n > len(f.lines) {
		return ""
	}
	return strings.TrimSpace(f.lines[n-1])
}

// LineCount returns the number of source lines.
func (f *File) LineCount() int {
	if f.lines == nil {
		f.lines = strings.Split(string(f.Source), "\n")
	}
	return len(f.lines)
}

// Collect walks root and reads every file whose language is in the requested
// set. Results are sorted by path so downstream ordering is stable. Unreadable
// files are skipped, not fatal.
func Collect(root string, languages []string) ([]*File, error) {
	wanted := make(map[string]bool, len(languages))
	for _, l := range languages {
		wanted[l] = true
	}

	var files []*File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Skip hidden and dependency directories.
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "__pycache__" || name == "venv") {
				return filepath.SkipDir
			}
			return nil
		}
		lang := DetectLanguage(path)
		if lang == "" || !wanted[lang] {
			return nil
		}
		src, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		files = append(files, &File{Path: path, Language: lang, Source: src})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
