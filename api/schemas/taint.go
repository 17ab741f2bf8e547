package schemas

// TaintCategory names the class of attacker influence a value may carry.
// Categories are open-ended configuration data; the constants below cover
// the rule tables shipped by default.
type TaintCategory string

const (
	TaintUserInput        TaintCategory = "user_input"
	TaintFileInput        TaintCategory = "file_input"
	TaintNetworkInput     TaintCategory = "network_input"
	TaintEnvironmentInput TaintCategory = "environment_input"
	TaintCommandInjection TaintCategory = "command_injection"
	TaintSQLInjection     TaintCategory = "sql_injection"
	TaintXSS              TaintCategory = "xss"
	TaintPathTraversal    TaintCategory = "path_traversal"
	TaintDeserialization  TaintCategory = "deserialization"
)

// TaintLevel is the monotone taint lattice: clean < low < medium < high <
// critical. During fixpoint propagation a variable's level only ever
// increases, which together with the bounded round count guarantees
// termination.
type TaintLevel string

const (
	LevelClean    TaintLevel = "clean"
	LevelLow      TaintLevel = "low"
	LevelMedium   TaintLevel = "medium"
	LevelHigh     TaintLevel = "high"
	LevelCritical TaintLevel = "critical"
)

var taintLevelRank = map[TaintLevel]int{
	LevelClean:    0,
	LevelLow:      1,
	LevelMedium:   2,
	LevelHigh:     3,
	LevelCritical: 4,
}

// Rank returns the lattice position of the level; unknown levels rank as clean.
func (l TaintLevel) Rank() int { return taintLevelRank[l] }

// Join returns the least upper bound of two levels.
func (l TaintLevel) Join(other TaintLevel) TaintLevel {
	if other.Rank() > l.Rank() {
		return other
	}
	return l
}

// TaintSourceOccurrence is one matched source rule in a file.
type TaintSourceOccurrence struct {
	Name     string        `json:"name"`
	Category TaintCategory `json:"category"`
	Level    TaintLevel    `json:"level"`
	Location Location      `json:"location"`
}

// TaintSinkOccurrence is one matched sink rule in a file.
type TaintSinkOccurrence struct {
	Name         string          `json:"name"`
	VulnerableTo []TaintCategory `json:"vulnerable_to"`
	Severity     TaintLevel      `json:"severity"`
	Location     Location        `json:"location"`
	// ArgPositions lists which argument indices are dangerous.
	ArgPositions []int `json:"arg_positions,omitempty"`
}

// TaintedVariable is a symbol proven reachable from a taint source. Entries
// grow monotonically during fixpoint iteration: categories are only added
// and the level only raised.
type TaintedVariable struct {
	// Symbol is the stable per-file symbol key (file:scope:name).
	Symbol     string          `json:"symbol"`
	Name       string          `json:"name"`
	Categories []TaintCategory `json:"categories"`
	Level      TaintLevel      `json:"level"`
	// Provenance is the ordered chain of sites the taint travelled through,
	// starting at the originating source occurrence.
	Provenance  []Location `json:"provenance"`
	Sanitized   bool       `json:"sanitized"`
	SanitizedBy []string   `json:"sanitized_by,omitempty"`
}

// TaintFlow is a confirmed source-to-sink path through tainted variables.
type TaintFlow struct {
	Source           TaintSourceOccurrence `json:"source"`
	Sink             TaintSinkOccurrence   `json:"sink"`
	Variables        []TaintedVariable     `json:"variables"`
	Category         TaintCategory         `json:"category"`
	Severity         TaintLevel            `json:"severity"`
	IsExploitable    bool                  `json:"is_exploitable"`
	SanitizationGaps []string              `json:"sanitization_gaps,omitempty"`
}

// Vulnerability is the reportable form of an unsanitized taint flow.
type Vulnerability struct {
	Category    TaintCategory `json:"category"`
	Severity    TaintLevel    `json:"severity"`
	Source      Location      `json:"source"`
	Sink        Location      `json:"sink"`
	FlowPath    []Location    `json:"flow_path"`
	Exploitable bool          `json:"exploitable"`
	Remediation string        `json:"remediation"`
}

// TaintAnalysisResult is the per-file output of the taint analyzer. Partial
// results are always preferred over failure: incompleteness (for example a
// fixpoint that hit the round cap) is reported through Warnings.
type TaintAnalysisResult struct {
	File            string                  `json:"file"`
	Sources         []TaintSourceOccurrence `json:"sources"`
	Sinks           []TaintSinkOccurrence   `json:"sinks"`
	TaintedVars     []TaintedVariable       `json:"tainted_variables"`
	Flows           []TaintFlow             `json:"flows"`
	Vulnerabilities []Vulnerability         `json:"vulnerabilities"`
	Warnings        []string                `json:"warnings,omitempty"`
}
