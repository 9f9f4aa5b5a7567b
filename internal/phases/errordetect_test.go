package phases

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/queue"
	"github.com/cycleforge/agent/internal/sandbox"
	"github.com/cycleforge/agent/internal/trouble"
)

func TestErrorDetect_NoIssuesNoQueueStops(t *testing.T) {
	provider := sandbox.NewMockProvider()
	framework := &sandbox.Framework{BuildCommand: []string{"go", "build", "./..."}, Environment: map[string]string{}}
	provider.SetOutput(framework.BuildCommand, sandbox.MockResult{ExitCode: 0})
	sb := sandbox.New(provider, "golang:1.23")

	troubles := trouble.NewRepository(filepath.Join(t.TempDir(), "troubles.json"), 100)
	q := queue.New(filepath.Join(t.TempDir(), "queue.json"))

	p := NewErrorDetect(".", sb, framework, troubles, q)
	cc := cycle.New("c1", time.Now())

	result, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)
	assert.True(t, result.ShouldStop)
	assert.Empty(t, cc.Issues)
}

func TestErrorDetect_BuildErrorsBecomeIssues(t *testing.T) {
	provider := sandbox.NewMockProvider()
	framework := &sandbox.Framework{BuildCommand: []string{"go", "build", "./..."}, Environment: map[string]string{}}
	provider.SetOutput(framework.BuildCommand, sandbox.MockResult{
		ExitCode: 2,
		Stderr:   "./main.go:12:5: undefined: foo\n",
	})
	sb := sandbox.New(provider, "golang:1.23")

	troubles := trouble.NewRepository(filepath.Join(t.TempDir(), "troubles.json"), 100)
	q := queue.New(filepath.Join(t.TempDir(), "queue.json"))

	p := NewErrorDetect(".", sb, framework, troubles, q)
	cc := cycle.New("c1", time.Now())

	result, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)
	assert.False(t, result.ShouldStop)
	require.NotEmpty(t, cc.Issues)
	assert.Equal(t, cycle.IssueBuildError, cc.Issues[0].Type)
}

func TestErrorDetect_QueuedImprovementsPreventStop(t *testing.T) {
	provider := sandbox.NewMockProvider()
	framework := &sandbox.Framework{BuildCommand: []string{"go", "build", "./..."}, Environment: map[string]string{}}
	provider.SetOutput(framework.BuildCommand, sandbox.MockResult{ExitCode: 0})
	sb := sandbox.New(provider, "golang:1.23")

	troubles := trouble.NewRepository(filepath.Join(t.TempDir(), "troubles.json"), 100)
	q := queue.New(filepath.Join(t.TempDir(), "queue.json"))
	_, err := q.Enqueue(cycle.Improvement{
		ID:          "imp-1",
		Type:        "refactor",
		Description: "simplify retry loop",
		Priority:    cycle.PriorityMedium,
		Source:      "test",
	})
	require.NoError(t, err)

	p := NewErrorDetect(".", sb, framework, troubles, q)
	cc := cycle.New("c1", time.Now())

	result, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)
	assert.False(t, result.ShouldStop)
}
