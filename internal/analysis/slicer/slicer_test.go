package slicer

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

const sampleSource = `
user = input()
flag = 1
if flag:
    cmd = user
    os.system(cmd)
done = 1
`

func newSlicer(t *testing.T, src string) *Slicer {
	t.Helper()

	f := &ingest.File{Path: "app.py", Language: "python", Source: []byte(src)}
	model, err := semantic.Build(context.Background(), f, zap.NewNop())
	require.NoError(t, err)

	models := map[string]*semantic.Model{"app.py": model}
	return New(models, nil, config.DefaultRules(), zap.NewNop())
}

func TestSliceBackwardFollowsDataAndControlDeps(t *testing.T) {
	s := newSlicer(t, sampleSource)

	slice, err := s.SliceBackward(schemas.SlicePoint{File: "app.py", Line: 6, VariableName: "cmd"})
	require.NoError(t, err)

	lines := make(map[int]bool)
	for _, n := range slice.Nodes {
		lines[n.Location.Line] = true
	}
	assert.True(t, lines[6], "criterion line")
	assert.True(t, lines[5], "cmd assignment")
	assert.True(t, lines[2], "user source assignment")
	assert.True(t, lines[4], "controlling if")
	assert.False(t, lines[7], "unrelated trailing statement")
}

func TestSliceForwardReachesUses(t *testing.T) {
	s := newSlicer(t, sampleSource)

	slice, err := s.SliceForward(schemas.SlicePoint{File: "app.py", Line: 2, VariableName: "user"})
	require.NoError(t, err)

	lines := make(map[int]bool)
	for _, n := range slice.Nodes {
		lines[n.Location.Line] = true
	}
	assert.True(t, lines[2], "criterion line")
	assert.True(t, lines[5], "use of user")
	assert.False(t, lines[3], "flag assignment is unrelated")
}

func TestSecurityFocusedAppliesThreshold(t *testing.T) {
	s := newSlicer(t, sampleSource)

	slice, err := s.SliceSecurityFocused(schemas.SlicePoint{File: "app.py", Line: 6, VariableName: "cmd"})
	require.NoError(t, err)

	for _, n := range slice.Nodes {
		assert.Greater(t, n.SecurityRelevance, securityThreshold)
	}

	var sawSink bool
	for _, n := range slice.Nodes {
		if n.Location.Line == 6 {
			sawSink = true
			assert.Equal(t, 1.0, n.SecurityRelevance, "sink call should saturate relevance")
		}
	}
	assert.True(t, sawSink, "sink line must survive the threshold")
}

func TestMinimalSetAlwaysContainsCriterionLine(t *testing.T) {
	s := newSlicer(t, sampleSource)

	for _, line := range []int{2, 3, 6, 7} {
		slice, err := s.ExtractMinimalSufficientSet(schemas.SlicePoint{File: "app.py", Line: line})
		require.NoError(t, err)

		var found bool
		for _, n := range slice.Nodes {
			if n.Location.Line == line {
				found = true
			}
		}
		assert.True(t, found, "line %d missing from its own minimal set", line)
	}
}

func TestScoresStayInBounds(t *testing.T) {
	s := newSlicer(t, sampleSource)

	point := schemas.SlicePoint{File: "app.py", Line: 6, VariableName: "cmd"}
	for _, slice := range []func(schemas.SlicePoint) (*schemas.CodeSlice, error){
		s.SliceBackward, s.SliceForward, s.SliceSecurityFocused, s.ExtractMinimalSufficientSet,
	} {
		got, err := slice(point)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got.SecurityScore, 0.0)
		assert.LessOrEqual(t, got.SecurityScore, 1.0)
		assert.GreaterOrEqual(t, got.CompletenessScore, 0.0)
		assert.LessOrEqual(t, got.CompletenessScore, 1.0)
	}
}

func TestUnknownFileErrors(t *testing.T) {
	s := newSlicer(t, sampleSource)

	_, err := s.SliceBackward(schemas.SlicePoint{File: "missing.py", Line: 1})
	require.Error(t, err)
}

func TestRenderContentGroupsByFile(t *testing.T) {
	s := newSlicer(t, sampleSource)

	slice, err := s.SliceBackward(schemas.SlicePoint{File: "app.py", Line: 6, VariableName: "cmd"})
	require.NoError(t, err)

	content := slice.RenderContent()
	assert.Contains(t, content, "# File: app.py")
	assert.Contains(t, content, "os.system(cmd)")
	assert.Positive(t, slice.LineCount())
	assert.Equal(t, 1, slice.FileCount())
}
