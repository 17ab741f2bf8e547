package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vulntrace/api/schemas"
	"github.com/xkilldash9x/vulntrace/internal/config"
	"github.com/xkilldash9x/vulntrace/internal/ingest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func sampleFiles() []*ingest.File {
	return []*ingest.File{
		{
			Path:     "app.py",
			Language: "python",
			Source: []byte(`
user = input()
cmd = user
os.system(cmd)

def main():
    helper()

def helper():
    pass
`),
		},
		{
			Path:     "util.py",
			Language: "python",
			Source: []byte(`
def sanitize(v):
    return v
`),
		},
	}
}

func TestRunEndToEnd(t *testing.T) {
	p := New(config.NewDefaultConfig(), zap.NewNop())

	result, err := p.Run(context.Background(), sampleFiles())
	require.NoError(t, err)

	assert.Equal(t, []string{"app.py", "util.py"}, result.Files)
	require.NotNil(t, result.Graph)
	assert.Contains(t, result.Graph.Functions, "app.main")
	assert.Contains(t, result.Graph.Functions, "util.sanitize")

	tr := result.Taint["app.py"]
	require.NotNil(t, tr)
	require.NotEmpty(t, tr.Vulnerabilities)
	assert.Equal(t, schemas.TaintCommandInjection, tr.Vulnerabilities[0].Category)

	vr := result.Validation["app.py"]
	require.NotNil(t, vr)
	require.NotEmpty(t, vr.Validated)
}

func TestRunIsDeterministic(t *testing.T) {
	p := New(config.NewDefaultConfig(), zap.NewNop())

	first, err := p.Run(context.Background(), sampleFiles())
	require.NoError(t, err)
	second, err := p.Run(context.Background(), sampleFiles())
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRunSkipsBadFilesWithWarning(t *testing.T) {
	files := append(sampleFiles(), &ingest.File{
		Path:     "broken.zz",
		Language: "cobol",
		Source:   []byte("IDENTIFICATION DIVISION."),
	})

	p := New(config.NewDefaultConfig(), zap.NewNop())
	result, err := p.Run(context.Background(), files)
	require.NoError(t, err)

	assert.NotContains(t, result.Files, "broken.zz")
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "broken.zz")
}

func TestRunWithNoUsableFiles(t *testing.T) {
	p := New(config.NewDefaultConfig(), zap.NewNop())

	_, err := p.Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoFiles)

	_, err = p.Run(context.Background(), []*ingest.File{
		{Path: "x.zz", Language: "cobol", Source: []byte("nope")},
	})
	require.ErrorIs(t, err, ErrNoFiles)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(config.NewDefaultConfig(), zap.NewNop())
	_, err := p.Run(ctx, sampleFiles())
	require.Error(t, err)
}
