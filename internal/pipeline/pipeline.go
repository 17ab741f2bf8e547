// Package pipeline orchestrates a full analysis run: parallel per-file
// parsing and semantic modeling, a merge barrier, the project call graph,
// parallel taint analysis, and serial path validation. Output ordering is
// stable so identical inputs serialize identically.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/vulntrace/api/schemas"
	"github.com/xkilldash9x/vulntrace/internal/analysis/callgraph"
	"github.com/xkilldash9x/vulntrace/internal/analysis/pathval"
	"github.com/xkilldash9x/vulntrace/internal/analysis/semantic"
	"github.com/xkilldash9x/vulntrace/internal/analysis/slicer"
	"github.com/xkilldash9x/vulntrace/internal/analysis/taint"
	"github.com/xkilldash9x/vulntrace/internal/config"
	"github.com/xkilldash9x/vulntrace/internal/ingest"
)

// ErrNoFiles reports a run where nothing could be parsed at all. Individual
// file failures are warnings; only a totally empty run is an error.
var ErrNoFiles = errors.New("pipeline: no analyzable files")

// Result is the aggregate output of one run. Files lists the successfully
// analyzed paths in sorted order; the maps are keyed by those paths.
type Result struct {
	Files      []string                                 `json:"files"`
	Graph      *schemas.CallGraph                       `json:"call_graph"`
	Taint      map[string]*schemas.TaintAnalysisResult  `json:"taint"`
	Validation map[string]*schemas.PathValidationResult `json:"validation"`
	Warnings   []string                                 `json:"warnings,omitempty"`
}

// Pipeline wires the analysis stages together.
type Pipeline struct {
	cfg config.Interface
	log *zap.Logger
}

// New returns a Pipeline over the given configuration.
func New(cfg config.Interface, logger *zap.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, log: logger.Named("pipeline")}
}

// Run executes every stage over the given files. Files that fail to parse
// or model are skipped with a warning; the run only fails when no file
// survives or the context is cancelled.
func (p *Pipeline) Run(ctx context.Context, files []*ingest.File) (*Result, error) {
	result := &Result{
		Taint:      make(map[string]*schemas.TaintAnalysisResult),
		Validation: make(map[string]*schemas.PathValidationResult),
	}

	// Stage 1: parse and build semantic models in parallel.
	models := make([]*semantic.Model, len(files))
	warnings := make([]string, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Analyzer().Concurrency)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if f.Root == nil {
				if err := f.Parse(gctx); err != nil {
					warnings[i] = fmt.Sprintf("skipping %s: %v", f.Path, err)
					return nil
				}
			}
			m, err := semantic.Build(gctx, f, p.log)
			if err != nil {
				warnings[i] = fmt.Sprintf("skipping %s: %v", f.Path, err)
				return nil
			}
			models[i] = m
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	modelsByPath := make(map[string]*semantic.Model)
	var usable []*ingest.File
	for i, f := range files {
		if warnings[i] != "" {
			result.Warnings = append(result.Warnings, warnings[i])
			continue
		}
		modelsByPath[f.Path] = models[i]
		usable = append(usable, f)
	}
	if len(usable) == 0 {
		return nil, ErrNoFiles
	}
	sort.Slice(usable, func(i, j int) bool { return usable[i].Path < usable[j].Path })
	for _, f := range usable {
		result.Files = append(result.Files, f.Path)
	}

	// Stage 2: merge the project call graph serially.
	builder := callgraph.NewBuilder(p.cfg, p.log)
	graph, err := builder.Build(usable, modelsByPath)
	if err != nil {
		return nil, fmt.Errorf("building call graph: %w", err)
	}
	result.Graph = graph

	// Stage 3: per-file taint analysis in parallel.
	analyzer := taint.NewAnalyzer(p.cfg.Rules(), p.log)
	analyzer.SetMaxRounds(p.cfg.Analyzer().MaxFixpointRounds)

	var mu sync.Mutex
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Analyzer().Concurrency)
	for _, f := range usable {
		f := f
		g.Go(func() error {
			tr, err := analyzer.Analyze(f, modelsByPath[f.Path], graph)
			if err != nil {
				mu.Lock()
				result.Warnings = append(result.Warnings, fmt.Sprintf("taint analysis of %s: %v", f.Path, err))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			result.Taint[f.Path] = tr
			mu.Unlock()
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Stage 4: path validation, serial and in path order.
	sl := slicer.New(modelsByPath, graph, p.cfg.Rules(), p.log)
	validator := pathval.NewValidator(modelsByPath, builder, result.Taint, sl, p.cfg.Rules(), p.log)
	for _, path := range result.Files {
		if _, ok := result.Taint[path]; !ok {
			continue
		}
		vr, err := validator.Validate(path)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("validating %s: %v", path, err))
			continue
		}
		result.Validation[path] = vr
	}

	sort.Strings(result.Warnings)

	p.log.Info("pipeline run complete",
		zap.Int("files", len(result.Files)),
		zap.Int("skipped", len(files)-len(result.Files)),
		zap.Int("functions", len(graph.Functions)))
	return result, nil
}
