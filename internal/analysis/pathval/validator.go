// Package pathval turns taint flows into validated vulnerability paths:
// concrete execution paths from source to sink, a feasibility judgement per
// path, and a human-checkable evidence chain.
package pathval

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vulntrace/api/schemas"
	"github.com/xkilldash9x/vulntrace/internal/analysis/callgraph"
	"github.com/xkilldash9x/vulntrace/internal/analysis/semantic"
	"github.com/xkilldash9x/vulntrace/internal/analysis/slicer"
	"github.com/xkilldash9x/vulntrace/internal/config"
)

const ifComplexityThreshold = 0.8

// Validator judges the exploitability of taint flows. It reads the models,
// the merged call graph, and the per-file taint results; it never mutates
// them.
type Validator struct {
	models  map[string]*semantic.Model
	builder *callgraph.Builder
	taint   map[string]*schemas.TaintAnalysisResult
	slicer  *slicer.Slicer
	rules   config.RulesConfig
	log     *zap.Logger
}

// NewValidator wires the validator to the earlier pipeline stages.
func NewValidator(models map[string]*semantic.Model, builder *callgraph.Builder,
	taintResults map[string]*schemas.TaintAnalysisResult, sl *slicer.Slicer,
	rules config.RulesConfig, logger *zap.Logger) *Validator {
	return &Validator{
		models:  models,
		builder: builder,
		taint:   taintResults,
		slicer:  sl,
		rules:   rules,
		log:     logger.Named("pathval"),
	}
}

// Validate processes every taint flow recorded for one file.
func (v *Validator) Validate(file string) (*schemas.PathValidationResult, error) {
	tr, ok := v.taint[file]
	if !ok {
		return nil, fmt.Errorf("validating %s: no taint analysis result", file)
	}

	result := &schemas.PathValidationResult{}
	for i := range tr.Flows {
		vp := v.validateFlow(&tr.Flows[i], result)
		result.Validated = append(result.Validated, vp)
	}

	result.ValidationCoverage = validationCoverage(result.Validated)
	result.AnalysisConfidence = analysisConfidence(result.Validated, result.ValidationCoverage)

	v.log.Info("path validation complete",
		zap.String("file", file),
		zap.Int("flows", len(tr.Flows)),
		zap.Float64("coverage", result.ValidationCoverage))
	return result, nil
}

func (v *Validator) validateFlow(flow *schemas.TaintFlow, result *schemas.PathValidationResult) schemas.VulnerabilityPath {
	vp := schemas.VulnerabilityPath{
		Vulnerability: schemas.Vulnerability{
			Category:    flow.Category,
			Severity:    flow.Severity,
			Source:      flow.Source.Location,
			Sink:        flow.Sink.Location,
			Exploitable: flow.IsExploitable,
			Remediation: v.rules.Remediation(flow.Category),
		},
	}
	if len(flow.Variables) > 0 {
		vp.Vulnerability.FlowPath = flow.Variables[0].Provenance
	}

	vp.Paths = v.findExecutionPaths(flow.Source.Location, flow.Sink.Location)
	for i := range vp.Paths {
		v.scorePath(&vp.Paths[i])
	}

	vp.Verdict = verdict(vp.Paths)
	vp.ExploitabilityScore = v.exploitabilityScore(flow, vp.Paths)
	vp.EvidenceChain = evidenceChain(&vp, flow.Category)
	vp.AttackVectors = v.rules.AttackVectorsFor(flow.Category)
	vp.Mitigations = v.rules.MitigationsFor(flow.Category)

	if slice, err := v.slicer.ExtractMinimalSufficientSet(schemas.SlicePoint{
		File: flow.Sink.Location.File,
		Line: flow.Sink.Location.Line,
	}); err == nil {
		vp.Slice = slice
	} else {
		result.Warnings = append(result.Warnings, fmt.Sprintf("slice for %s failed: %v", flow.Sink.Location, err))
	}

	return vp
}

// --- path discovery ---

func (v *Validator) findExecutionPaths(source, sink schemas.Location) []schemas.ExecutionPath {
	if source.File == sink.File {
		return v.intraFilePaths(source, sink)
	}
	return v.interFilePaths(source, sink)
}

// intraFilePaths models straight-line execution from source to sink,
// annotated with every branch the control flow crosses in between.
func (v *Validator) intraFilePaths(source, sink schemas.Location) []schemas.ExecutionPath {
	if source.Line >= sink.Line {
		return nil
	}
	path := schemas.ExecutionPath{
		PathID: fmt.Sprintf("direct_%d_%d", source.Line, sink.Line),
		Kind:   schemas.PathIntraprocedural,
		Start:  source,
		End:    sink,
		Nodes:  []schemas.Location{source, sink},
	}
	if m, ok := v.models[source.File]; ok {
		for _, c := range m.ConditionsBetween(source.Line, sink.Line) {
			path.Conditions = append(path.Conditions, schemas.PathCondition{
				Kind:       c.Kind,
				Expr:       c.Expr,
				Location:   c.Site,
				Complexity: conditionComplexity(c.Expr),
			})
		}
	}
	return []schemas.ExecutionPath{path}
}

// interFilePaths walks call chains between the functions of the two files.
func (v *Validator) interFilePaths(source, sink schemas.Location) []schemas.ExecutionPath {
	graph := v.builder.Graph()
	if graph == nil {
		return nil
	}

	var sourceFuncs, sinkFuncs []string
	for q, fn := range graph.Functions {
		if fn.Location.File == source.File {
			sourceFuncs = append(sourceFuncs, q)
		}
		if fn.Location.File == sink.File {
			sinkFuncs = append(sinkFuncs, q)
		}
	}
	sort.Strings(sourceFuncs)
	sort.Strings(sinkFuncs)

	var paths []schemas.ExecutionPath
	for _, from := range sourceFuncs {
		for _, to := range sinkFuncs {
			for _, chain := range v.builder.CallChains(from, to) {
				path := schemas.ExecutionPath{
					PathID: fmt.Sprintf("inter_file_%d", len(paths)),
					Kind:   schemas.PathInterprocedural,
					Start:  source,
					End:    sink,
				}
				for _, q := range chain {
					path.Nodes = append(path.Nodes, graph.Functions[q].Location)
				}
				paths = append(paths, path)
			}
		}
	}
	return paths
}

// --- condition and path scoring ---

// conditionComplexity scores a branch expression by counting boolean
// structure: base 0.1, each and/or 0.2, each not 0.1, each comparator 0.1,
// capped at 1.0.
func conditionComplexity(expr string) float64 {
	complexity := 0.1
	complexity += 0.2 * float64(countWord(expr, "and")+countWord(expr, "or"))
	complexity += 0.1 * float64(countWord(expr, "not"))
	complexity += 0.1 * float64(countComparators(expr))
	if complexity > 1.0 {
		return 1.0
	}
	return complexity
}

func countWord(expr, word string) int {
	count := 0
	fields := strings.FieldsFunc(expr, func(r rune) bool {
		return r == ' ' || r == '(' || r == ')' || r == '\t'
	})
	for _, f := range fields {
		if f == word {
			count++
		}
	}
	return count
}

func countComparators(expr string) int {
	count := strings.Count(expr, "==") + strings.Count(expr, "!=") +
		strings.Count(expr, "<=") + strings.Count(expr, ">=")
	// Bare < and > remain after the two-char forms are discounted.
	count += strings.Count(expr, "<") - strings.Count(expr, "<=")
	count += strings.Count(expr, ">") - strings.Count(expr, ">=")
	return count
}

// satisfiable judges whether exploitation can steer a branch: plain ifs
// usually can be satisfied unless heavily compound, loops are harder to
// control, try blocks always execute.
func satisfiable(kind schemas.ConditionKind, complexity float64) bool {
	switch kind {
	case schemas.ConditionIf:
		return complexity < ifComplexityThreshold
	case schemas.ConditionWhile, schemas.ConditionFor:
		return complexity < 0.5
	default:
		return true
	}
}

func (v *Validator) scorePath(path *schemas.ExecutionPath) {
	if len(path.Conditions) == 0 {
		path.FeasibilityScore = 0.9
		return
	}
	satisfied := 0
	for i := range path.Conditions {
		c := &path.Conditions[i]
		c.Satisfiable = satisfiable(c.Kind, c.Complexity)
		if c.Satisfiable {
			satisfied++
		}
	}
	path.FeasibilityScore = float64(satisfied) / float64(len(path.Conditions))
}

// --- verdict and scores ---

func verdict(paths []schemas.ExecutionPath) schemas.Verdict {
	if len(paths) == 0 {
		return schemas.VerdictInsufficientInfo
	}
	best := maxFeasibility(paths)
	switch {
	case best >= 0.8:
		return schemas.VerdictExploitable
	case best >= 0.5:
		return schemas.VerdictPotentiallyExploitable
	default:
		return schemas.VerdictNotExploitable
	}
}

func (v *Validator) exploitabilityScore(flow *schemas.TaintFlow, paths []schemas.ExecutionPath) float64 {
	if len(paths) == 0 {
		return 0.0
	}
	base := 0.5
	if flow.IsExploitable {
		base = 0.7
	}
	score := (base + maxFeasibility(paths)*0.3) * v.rules.ExploitMultiplier(flow.Category)
	if score > 1.0 {
		return 1.0
	}
	return score
}

func maxFeasibility(paths []schemas.ExecutionPath) float64 {
	best := 0.0
	for _, p := range paths {
		if p.FeasibilityScore > best {
			best = p.FeasibilityScore
		}
	}
	return best
}

// evidenceChain lists the source, every feasible path, and the sink, in
// execution order.
func evidenceChain(vp *schemas.VulnerabilityPath, category schemas.TaintCategory) []schemas.EvidenceItem {
	chain := []schemas.EvidenceItem{{
		Kind:        "source",
		Description: fmt.Sprintf("Taint source: %s", category),
		Location:    vp.Vulnerability.Source,
	}}
	for _, p := range vp.Paths {
		if p.FeasibilityScore > 0.5 {
			chain = append(chain, schemas.EvidenceItem{
				Kind:        "execution_path",
				Description: fmt.Sprintf("Feasible execution path with %d conditions", len(p.Conditions)),
				PathID:      p.PathID,
			})
		}
	}
	chain = append(chain, schemas.EvidenceItem{
		Kind:        "sink",
		Description: fmt.Sprintf("Vulnerable sink for %s", category),
		Location:    vp.Vulnerability.Sink,
	})
	return chain
}

func validationCoverage(paths []schemas.VulnerabilityPath) float64 {
	if len(paths) == 0 {
		return 0.0
	}
	validated := 0
	for _, p := range paths {
		if p.Verdict != schemas.VerdictInsufficientInfo {
			validated++
		}
	}
	return float64(validated) / float64(len(paths))
}

func analysisConfidence(paths []schemas.VulnerabilityPath, coverage float64) float64 {
	if len(paths) == 0 {
		return 0.0
	}
	total := 0.0
	for _, p := range paths {
		total += p.ExploitabilityScore
	}
	confidence := coverage + (total/float64(len(paths)))*0.2
	if confidence > 1.0 {
		return 1.0
	}
	return confidence
}
