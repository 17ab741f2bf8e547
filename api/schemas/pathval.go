package schemas

// PathKind classifies how an execution path was discovered.
type PathKind string

const (
	PathIntraprocedural PathKind = "intraprocedural"
	PathInterprocedural PathKind = "interprocedural"
)

// ConditionKind classifies a branch condition encountered along a path.
type ConditionKind string

const (
	ConditionIf    ConditionKind = "if"
	ConditionWhile ConditionKind = "while"
	ConditionFor   ConditionKind = "for"
	ConditionTry   ConditionKind = "try"
)

// PathCondition is one branch that must be taken for a path to execute.
// Satisfiable is a heuristic judgement, not a solver result.
type PathCondition struct {
	Kind        ConditionKind `json:"kind"`
	Expr        string        `json:"expr"`
	Location    Location      `json:"location"`
	Satisfiable bool          `json:"satisfiable"`
	// Complexity scores boolean structure in the expression, in [0, 1], as a
	// rough proxy for how constrained the branch is.
	Complexity float64 `json:"complexity"`
}

// ExecutionPath is an ordered statement sequence from a source site toward a
// sink site, together with the conditions guarding it.
type ExecutionPath struct {
	PathID     string          `json:"path_id"`
	Kind       PathKind        `json:"kind"`
	Start      Location        `json:"start"`
	End        Location        `json:"end"`
	Nodes      []Location      `json:"nodes"`
	Conditions []PathCondition `json:"conditions,omitempty"`
	// FeasibilityScore estimates the chance the path executes, in [0, 1].
	FeasibilityScore float64 `json:"feasibility_score"`
}

// Verdict is the final judgement on a candidate vulnerability.
type Verdict string

const (
	VerdictExploitable            Verdict = "exploitable"
	VerdictPotentiallyExploitable Verdict = "potentially_exploitable"
	VerdictNotExploitable         Verdict = "not_exploitable"
	VerdictInsufficientInfo       Verdict = "insufficient_info"
)

// EvidenceItem is one link in a vulnerability's evidence chain: the source,
// each feasible path, and the sink, in that order.
type EvidenceItem struct {
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Location    Location `json:"location,omitempty"`
	// PathID is set when the item references an execution path.
	PathID string `json:"path_id,omitempty"`
}

// VulnerabilityPath is the validated form of a taint flow: the discovered
// execution paths, the verdict, and the human-checkable evidence chain.
type VulnerabilityPath struct {
	Vulnerability Vulnerability   `json:"vulnerability"`
	Paths         []ExecutionPath `json:"paths"`
	Verdict       Verdict         `json:"verdict"`
	// ExploitabilityScore is in [0, 1] and combines path feasibility with a
	// per-category difficulty multiplier.
	ExploitabilityScore float64        `json:"exploitability_score"`
	EvidenceChain       []EvidenceItem `json:"evidence_chain"`
	AttackVectors       []string       `json:"attack_vectors,omitempty"`
	Mitigations         []string       `json:"mitigations,omitempty"`
	// Slice is the minimal sufficient evidence slice around the sink.
	Slice *CodeSlice `json:"slice,omitempty"`
}

// PathValidationResult aggregates validation over all candidate
// vulnerabilities of a run.
type PathValidationResult struct {
	Validated []VulnerabilityPath `json:"validated"`
	// ValidationCoverage is the fraction of candidates for which at least
	// one execution path was found. AnalysisConfidence averages path
	// feasibility across all validated candidates.
	ValidationCoverage float64  `json:"validation_coverage"`
	AnalysisConfidence float64  `json:"analysis_confidence"`
	Warnings           []string `json:"warnings,omitempty"`
}
