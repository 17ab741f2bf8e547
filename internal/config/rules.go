// File: internal/config/rules.go
package config

import "github.com/xkilldash9x/vulntrace/api/schemas"

// SourceRule describes where attacker-controlled data enters a program.
// FunctionPatterns match call sites by substring; VariablePatterns match
// identifier and attribute reads.
type SourceRule struct {
	Name             string               `mapstructure:"name" yaml:"name"`
	Category         schemas.TaintCategory `mapstructure:"category" yaml:"category"`
	Level            schemas.TaintLevel    `mapstructure:"level" yaml:"level"`
	FunctionPatterns []string             `mapstructure:"function_patterns" yaml:"function_patterns"`
	VariablePatterns []string             `mapstructure:"variable_patterns" yaml:"variable_patterns"`
	Description      string               `mapstructure:"description" yaml:"description"`
}

// SinkRule describes a dangerous operation. Category is the injection class
// a match reports; VulnerableTo lists the taint categories that may flow
// into it. ParameterPositions are the dangerous argument indices.
type SinkRule struct {
	Name               string                  `mapstructure:"name" yaml:"name"`
	Category           schemas.TaintCategory   `mapstructure:"category" yaml:"category"`
	VulnerableTo       []schemas.TaintCategory `mapstructure:"vulnerable_to" yaml:"vulnerable_to"`
	Severity           schemas.TaintLevel      `mapstructure:"severity" yaml:"severity"`
	FunctionPatterns   []string                `mapstructure:"function_patterns" yaml:"function_patterns"`
	ParameterPositions []int                   `mapstructure:"parameter_positions" yaml:"parameter_positions"`
	Description        string                  `mapstructure:"description" yaml:"description"`
}

// SanitizerRule names a cleansing function and the categories it actually
// protects against. A sanitizer applied against the wrong category still
// marks the variable sanitized but is reported as a sanitization gap.
type SanitizerRule struct {
	Pattern    string                  `mapstructure:"pattern" yaml:"pattern"`
	Categories []schemas.TaintCategory `mapstructure:"categories" yaml:"categories"`
}

// RulesConfig bundles every data-driven table the analyzers consult. The
// matching strategy is substring based and best-effort, not sound.
type RulesConfig struct {
	Sources    []SourceRule    `mapstructure:"sources" yaml:"sources"`
	Sinks      []SinkRule      `mapstructure:"sinks" yaml:"sinks"`
	Sanitizers []SanitizerRule `mapstructure:"sanitizers" yaml:"sanitizers"`

	Remediations       map[schemas.TaintCategory]string   `mapstructure:"remediations" yaml:"remediations"`
	AttackVectors      map[schemas.TaintCategory][]string `mapstructure:"attack_vectors" yaml:"attack_vectors"`
	Mitigations        map[schemas.TaintCategory][]string `mapstructure:"mitigations" yaml:"mitigations"`
	ExploitMultipliers map[schemas.TaintCategory]float64  `mapstructure:"exploit_multipliers" yaml:"exploit_multipliers"`

	// SecurityKeywords mark variables as security-relevant during slicing.
	SecurityKeywords []string `mapstructure:"security_keywords" yaml:"security_keywords"`
}

// Remediation returns the category's fix-it string, falling back to generic
// advice for unlisted categories.
func (r RulesConfig) Remediation(cat schemas.TaintCategory) string {
	if s, ok := r.Remediations[cat]; ok {
		return s
	}
	return "Validate and sanitize inputs"
}

// AttackVectorsFor returns attack vector text for a category.
func (r RulesConfig) AttackVectorsFor(cat schemas.TaintCategory) []string {
	if v, ok := r.AttackVectors[cat]; ok {
		return v
	}
	return []string{"Generic input manipulation"}
}

// MitigationsFor returns mitigation text for a category.
func (r RulesConfig) MitigationsFor(cat schemas.TaintCategory) []string {
	if v, ok := r.Mitigations[cat]; ok {
		return v
	}
	return []string{"Validate and sanitize all inputs"}
}

// ExploitMultiplier weights exploitability by how directly a category
// translates into compromise.
func (r RulesConfig) ExploitMultiplier(cat schemas.TaintCategory) float64 {
	if m, ok := r.ExploitMultipliers[cat]; ok {
		return m
	}
	return 0.5
}

// DefaultRules returns the built-in rule tables.
func DefaultRules() RulesConfig {
	return RulesConfig{
		Sources: []SourceRule{
			{
				Name:             "user_input",
				Category:         schemas.TaintUserInput,
				Level:            schemas.LevelHigh,
				FunctionPatterns: []string{"input", "raw_input", "sys.stdin.read"},
				VariablePatterns: []string{"request.args", "request.form", "request.json", "request.data"},
				Description:      "Direct user input from console or web requests",
			},
			{
				Name:             "file_input",
				Category:         schemas.TaintFileInput,
				Level:            schemas.LevelMedium,
				FunctionPatterns: []string{"open", "file", "read", "readlines"},
				VariablePatterns: []string{"sys.argv"},
				Description:      "Input from files or command line arguments",
			},
			{
				Name:             "network_input",
				Category:         schemas.TaintNetworkInput,
				Level:            schemas.LevelHigh,
				FunctionPatterns: []string{"requests.get", "requests.post", "urllib.request", "socket.recv"},
				Description:      "Input from network requests",
			},
			{
				Name:             "environment_input",
				Category:         schemas.TaintEnvironmentInput,
				Level:            schemas.LevelMedium,
				FunctionPatterns: []string{"os.environ.get", "os.getenv"},
				VariablePatterns: []string{"os.environ"},
				Description:      "Input from environment variables",
			},
		},
		Sinks: []SinkRule{
			{
				Name:               "command_execution",
				Category:           schemas.TaintCommandInjection,
				VulnerableTo:       []schemas.TaintCategory{schemas.TaintUserInput, schemas.TaintFileInput, schemas.TaintCommandInjection},
				Severity:           schemas.LevelCritical,
				FunctionPatterns:   []string{"os.system", "os.popen", "subprocess.call", "subprocess.run", "subprocess.Popen"},
				ParameterPositions: []int{0},
				Description:        "Command execution functions vulnerable to injection",
			},
			{
				Name:               "sql_execution",
				Category:           schemas.TaintSQLInjection,
				VulnerableTo:       []schemas.TaintCategory{schemas.TaintUserInput, schemas.TaintFileInput, schemas.TaintSQLInjection},
				Severity:           schemas.LevelCritical,
				FunctionPatterns:   []string{"execute", "cursor.execute", "executemany", "query", "raw"},
				ParameterPositions: []int{0},
				Description:        "SQL execution functions vulnerable to injection",
			},
			{
				Name:               "code_execution",
				Category:           schemas.TaintCommandInjection,
				VulnerableTo:       []schemas.TaintCategory{schemas.TaintUserInput, schemas.TaintFileInput},
				Severity:           schemas.LevelCritical,
				FunctionPatterns:   []string{"eval", "exec", "compile"},
				ParameterPositions: []int{0},
				Description:        "Code execution functions",
			},
			{
				Name:               "file_operations",
				Category:           schemas.TaintPathTraversal,
				VulnerableTo:       []schemas.TaintCategory{schemas.TaintUserInput, schemas.TaintFileInput, schemas.TaintPathTraversal},
				Severity:           schemas.LevelHigh,
				FunctionPatterns:   []string{"open", "file", "remove", "unlink", "rmdir"},
				ParameterPositions: []int{0},
				Description:        "File system operations vulnerable to path traversal",
			},
			{
				Name:               "html_output",
				Category:           schemas.TaintXSS,
				VulnerableTo:       []schemas.TaintCategory{schemas.TaintUserInput, schemas.TaintXSS},
				Severity:           schemas.LevelHigh,
				FunctionPatterns:   []string{"render", "render_template", "render_template_string", "HttpResponse"},
				ParameterPositions: []int{0, 1},
				Description:        "HTML output functions vulnerable to XSS",
			},
			{
				Name:               "deserialization",
				Category:           schemas.TaintDeserialization,
				VulnerableTo:       []schemas.TaintCategory{schemas.TaintUserInput, schemas.TaintFileInput, schemas.TaintNetworkInput, schemas.TaintDeserialization},
				Severity:           schemas.LevelHigh,
				FunctionPatterns:   []string{"pickle.loads", "pickle.load", "yaml.load", "marshal.loads"},
				ParameterPositions: []int{0},
				Description:        "Deserialization of untrusted data",
			},
		},
		Sanitizers: []SanitizerRule{
			{Pattern: "escape", Categories: []schemas.TaintCategory{schemas.TaintUserInput}},
			{Pattern: "quote", Categories: []schemas.TaintCategory{schemas.TaintUserInput}},
			{Pattern: "sanitize", Categories: []schemas.TaintCategory{schemas.TaintUserInput}},
			{Pattern: "clean", Categories: []schemas.TaintCategory{schemas.TaintUserInput}},
			{Pattern: "filter", Categories: []schemas.TaintCategory{schemas.TaintUserInput}},
			{Pattern: "html.escape", Categories: []schemas.TaintCategory{schemas.TaintXSS}},
			{Pattern: "cgi.escape", Categories: []schemas.TaintCategory{schemas.TaintXSS}},
			{Pattern: "bleach.clean", Categories: []schemas.TaintCategory{schemas.TaintXSS}},
			{Pattern: "quote_identifier", Categories: []schemas.TaintCategory{schemas.TaintSQLInjection}},
			{Pattern: "escape_string", Categories: []schemas.TaintCategory{schemas.TaintSQLInjection}},
			{Pattern: "parameterize", Categories: []schemas.TaintCategory{schemas.TaintSQLInjection}},
			{Pattern: "os.path.normpath", Categories: []schemas.TaintCategory{schemas.TaintPathTraversal}},
			{Pattern: "os.path.abspath", Categories: []schemas.TaintCategory{schemas.TaintPathTraversal}},
			{Pattern: "pathlib.Path.resolve", Categories: []schemas.TaintCategory{schemas.TaintPathTraversal}},
			{Pattern: "shlex.quote", Categories: []schemas.TaintCategory{schemas.TaintCommandInjection}},
			{Pattern: "pipes.quote", Categories: []schemas.TaintCategory{schemas.TaintCommandInjection}},
		},
		Remediations: map[schemas.TaintCategory]string{
			schemas.TaintSQLInjection:     "Use parameterized queries or prepared statements",
			schemas.TaintCommandInjection: "Use subprocess with shell=False and validate inputs",
			schemas.TaintXSS:              "Escape HTML output and validate user inputs",
			schemas.TaintPathTraversal:    "Validate and sanitize file paths, use os.path.normpath",
			schemas.TaintUserInput:        "Validate and sanitize all user inputs",
		},
		AttackVectors: map[schemas.TaintCategory][]string{
			schemas.TaintCommandInjection: {
				"Inject shell commands through user input",
				"Use command chaining with ; or &&",
				"Exploit subprocess calls with shell=True",
			},
			schemas.TaintSQLInjection: {
				"Inject SQL commands through user input",
				"Use UNION attacks to extract data",
				"Exploit dynamic query construction",
			},
			schemas.TaintXSS: {
				"Inject JavaScript through user input",
				"Use script tags in form inputs",
				"Exploit reflected or stored XSS",
			},
			schemas.TaintPathTraversal: {
				"Use ../ sequences to access parent directories",
				"Exploit file operations with user-controlled paths",
				"Access sensitive files outside intended directory",
			},
		},
		Mitigations: map[schemas.TaintCategory][]string{
			schemas.TaintCommandInjection: {
				"Use subprocess with shell=False",
				"Validate and sanitize all user inputs",
				"Use parameterized commands or whitelisting",
			},
			schemas.TaintSQLInjection: {
				"Use parameterized queries or prepared statements",
				"Validate and sanitize database inputs",
				"Use ORM frameworks with built-in protection",
			},
			schemas.TaintXSS: {
				"Escape HTML output properly",
				"Use Content Security Policy (CSP)",
				"Validate and sanitize user inputs",
			},
			schemas.TaintPathTraversal: {
				"Validate and normalize file paths",
				"Use os.path.normpath and check against whitelist",
				"Restrict file operations to specific directories",
			},
		},
		ExploitMultipliers: map[schemas.TaintCategory]float64{
			schemas.TaintCommandInjection: 1.0,
			schemas.TaintSQLInjection:     0.9,
			schemas.TaintPathTraversal:    0.8,
			schemas.TaintXSS:              0.7,
			schemas.TaintUserInput:        0.6,
		},
		SecurityKeywords: []string{"password", "token", "key", "secret", "auth", "session"},
	}
}
