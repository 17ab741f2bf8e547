package taint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulntrace/api/schemas"
	"github.com/xkilldash9x/vulntrace/internal/analysis/semantic"
	"github.com/xkilldash9x/vulntrace/internal/config"
	"github.com/xkilldash9x/vulntrace/internal/ingest"
)

func analyze(t *testing.T, src string, seeds []Seed) *schemas.TaintAnalysisResult {
	t.Helper()

	f := &ingest.File{Path: "app.py", Language: "python", Source: []byte(src)}
	model, err := semantic.Build(context.Background(), f, zap.NewNop())
	require.NoError(t, err)

	a := NewAnalyzer(config.DefaultRules(), zap.NewNop())
	result, err := a.AnalyzeSeeded(f, model, nil, seeds)
	require.NoError(t, err)
	return result
}

func TestCommandInjectionThroughCallChain(t *testing.T) {
	result := analyze(t, `
def f(x):
    return g(x)

def g(y):
    os.system(y)
`, []Seed{{Name: "x", Line: 2, Category: schemas.TaintCommandInjection, Level: schemas.LevelHigh}})

	require.Len(t, result.Flows, 1)
	flow := result.Flows[0]
	assert.Equal(t, schemas.TaintCommandInjection, flow.Category)
	assert.True(t, flow.IsExploitable)
	assert.Equal(t, "os.system", flow.Sink.Name)

	require.Len(t, result.Vulnerabilities, 1)
	assert.Equal(t, "Use subprocess with shell=False and validate inputs", result.Vulnerabilities[0].Remediation)
}

func TestSQLInjectionViaFString(t *testing.T) {
	result := analyze(t, `
user_id = input()
query = f"SELECT * FROM t WHERE id={user_id}"
cursor.execute(query)
`, nil)

	var sqlFlows []schemas.TaintFlow
	for _, flow := range result.Flows {
		if flow.Category == schemas.TaintSQLInjection {
			sqlFlows = append(sqlFlows, flow)
		}
	}
	require.NotEmpty(t, sqlFlows)
	flow := sqlFlows[0]
	assert.True(t, flow.IsExploitable)
	assert.Equal(t, schemas.LevelCritical, flow.Severity)

	var sqlVulns []schemas.Vulnerability
	for _, v := range result.Vulnerabilities {
		if v.Category == schemas.TaintSQLInjection {
			sqlVulns = append(sqlVulns, v)
		}
	}
	require.NotEmpty(t, sqlVulns)
	assert.Equal(t, "Use parameterized queries or prepared statements", sqlVulns[0].Remediation)
}

func TestSanitizerDropsLevelAndSuppressesVulnerability(t *testing.T) {
	result := analyze(t, `
user_id = input()
safe = shlex.quote(user_id)
os.system(safe)
`, nil)

	var sanitized *schemas.TaintedVariable
	for i := range result.TaintedVars {
		if result.TaintedVars[i].Name == "safe" {
			sanitized = &result.TaintedVars[i]
		}
	}
	require.NotNil(t, sanitized)
	assert.True(t, sanitized.Sanitized)
	assert.Equal(t, schemas.LevelLow, sanitized.Level)
	assert.Contains(t, sanitized.SanitizedBy, "shlex.quote")

	for _, flow := range result.Flows {
		if flow.Sink.Name == "os.system" {
			assert.False(t, flow.IsExploitable)
			assert.Empty(t, flow.SanitizationGaps, "shlex.quote covers command injection")
		}
	}
	assert.Empty(t, result.Vulnerabilities, "sanitized flow must not surface as a vulnerability")
}

func TestWrongCategorySanitizerReportsGap(t *testing.T) {
	result := analyze(t, `
user_id = input()
safe = shlex.quote(user_id)
cursor.execute(safe)
`, nil)

	var found bool
	for _, flow := range result.Flows {
		if flow.Category == schemas.TaintSQLInjection && flow.Sink.Name == "cursor.execute" {
			found = true
			assert.False(t, flow.IsExploitable)
			assert.Contains(t, flow.SanitizationGaps, "Inappropriate sanitization for sql_injection")
		}
	}
	assert.True(t, found, "expected a sanitized sql flow with a gap")
}

func TestSourceAndSinkOccurrences(t *testing.T) {
	result := analyze(t, `
data = input()
os.system(data)
`, nil)

	require.NotEmpty(t, result.Sources)
	assert.Equal(t, schemas.TaintUserInput, result.Sources[0].Category)
	assert.Equal(t, schemas.LevelHigh, result.Sources[0].Level)

	var sysSink *schemas.TaintSinkOccurrence
	for i := range result.Sinks {
		if result.Sinks[i].Name == "os.system" {
			sysSink = &result.Sinks[i]
		}
	}
	require.NotNil(t, sysSink)
	assert.Equal(t, schemas.LevelCritical, sysSink.Severity)
	assert.Equal(t, []int{0}, sysSink.ArgPositions)
}

func TestTaintMonotonicity(t *testing.T) {
	src := `
a = input()
b = a
c = b
d = c
`
	f := &ingest.File{Path: "app.py", Language: "python", Source: []byte(src)}
	model, err := semantic.Build(context.Background(), f, zap.NewNop())
	require.NoError(t, err)

	var previous map[string]schemas.TaintLevel
	for rounds := 1; rounds <= 4; rounds++ {
		a := NewAnalyzer(config.DefaultRules(), zap.NewNop())
		a.SetMaxRounds(rounds)
		result, err := a.Analyze(f, model, nil)
		require.NoError(t, err)

		current := make(map[string]schemas.TaintLevel)
		for _, tv := range result.TaintedVars {
			current[tv.Symbol] = tv.Level
		}
		for sym, level := range previous {
			got, ok := current[sym]
			require.True(t, ok, "round %d dropped %s", rounds, sym)
			assert.GreaterOrEqual(t, got.Rank(), level.Rank())
		}
		previous = current
	}
}

func TestFixpointCapWarning(t *testing.T) {
	// A long assignment chain needs more rounds than the cap allows.
	src := "a = input()\n"
	prev := "a"
	for _, name := range []string{"b", "c", "d", "e"} {
		src += name + " = " + prev + "\n"
		prev = name
	}

	f := &ingest.File{Path: "app.py", Language: "python", Source: []byte(src)}
	model, err := semantic.Build(context.Background(), f, zap.NewNop())
	require.NoError(t, err)

	a := NewAnalyzer(config.DefaultRules(), zap.NewNop())
	a.SetMaxRounds(1)
	result, err := a.Analyze(f, model, nil)
	require.NoError(t, err)
	assert.Contains(t, result.Warnings, "fixpoint_not_converged")
}

func TestUnresolvableSeedWarns(t *testing.T) {
	result := analyze(t, `
x = 1
`, []Seed{{Name: "missing", Line: 2, Category: schemas.TaintUserInput, Level: schemas.LevelHigh}})

	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "missing")
}
