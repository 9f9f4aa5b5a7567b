package phases

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/learning"
	"github.com/cycleforge/agent/internal/queue"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestImproveFind_MarkersBecomeImprovements(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n\n// FIXME: handle the edge case\nfunc main() {}\n// NOTE: just a remark\n")

	p := NewImproveFind(dir, nil, nil, nil)
	cc := cycle.New("c1", time.Now())

	result, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)
	assert.True(t, result.Success)

	var fixme *cycle.Improvement
	for i := range cc.Improvements {
		if cc.Improvements[i].Type == "marker-fixme" {
			fixme = &cc.Improvements[i]
		}
		assert.NotEqual(t, "marker-note", cc.Improvements[i].Type, "NOTE markers should be dropped")
	}
	require.NotNil(t, fixme)
	assert.Equal(t, cycle.PriorityHigh, fixme.Priority)
}

func TestImproveFind_LongFunctionFlagged(t *testing.T) {
	dir := t.TempDir()
	var body string
	for i := 0; i < 120; i++ {
		body += "\tx := 1\n"
	}
	writeFile(t, dir, "big.go", "package main\n\nfunc big() {\n"+body+"}\n")

	p := NewImproveFind(dir, nil, nil, nil)
	cc := cycle.New("c1", time.Now())

	_, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)

	found := false
	for _, imp := range cc.Improvements {
		if imp.Type == "long-function" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestImproveFind_PatternMatchAboveConfidenceThreshold(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "db.go", "package main\n\nfunc query() { /* select */ }\n")

	patterns := learning.NewRepository(filepath.Join(dir, "patterns.json"), nil)
	_, err := patterns.Add(learning.LearnedPattern{
		Name: "raw-sql",
		Conditions: []learning.Condition{
			{Type: learning.ConditionFileGlob, Value: "*.go"},
		},
		Stats: learning.Stats{Confidence: 0.9},
	})
	require.NoError(t, err)

	p := NewImproveFind(dir, patterns, nil, nil)
	cc := cycle.New("c1", time.Now())

	_, err = p.Execute(context.Background(), cc)
	require.NoError(t, err)

	found := false
	for _, imp := range cc.Improvements {
		if imp.Type == "pattern-match" {
			found = true
		}
	}
	assert.True(t, found)
	assert.Len(t, cc.UsedPatterns, 1)
}

func TestImproveFind_LowConfidencePatternSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "db.go", "package main\n\nfunc query() {}\n")

	patterns := learning.NewRepository(filepath.Join(dir, "patterns.json"), nil)
	_, err := patterns.Add(learning.LearnedPattern{
		Name: "raw-sql",
		Conditions: []learning.Condition{
			{Type: learning.ConditionFileGlob, Value: "*.go"},
		},
		Stats: learning.Stats{Confidence: 0.5},
	})
	require.NoError(t, err)

	p := NewImproveFind(dir, patterns, nil, nil)
	cc := cycle.New("c1", time.Now())

	_, err = p.Execute(context.Background(), cc)
	require.NoError(t, err)

	for _, imp := range cc.Improvements {
		assert.NotEqual(t, "pattern-match", imp.Type)
	}
	assert.Empty(t, cc.UsedPatterns)
}

func TestImproveFind_QueuedImprovementsMerged(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "plain.go", "package main\n\nfunc plain() {}\n")

	q := queue.New(filepath.Join(dir, "queue.json"))
	_, err := q.Enqueue(cycle.Improvement{ID: "q1", Type: "refactor", Description: "simplify", Priority: cycle.PriorityHigh, Source: "test"})
	require.NoError(t, err)

	p := NewImproveFind(dir, nil, q, nil)
	cc := cycle.New("c1", time.Now())

	_, err = p.Execute(context.Background(), cc)
	require.NoError(t, err)

	found := false
	for _, imp := range cc.Improvements {
		if imp.ID == "q1" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestImproveFind_AILayerBoundedToSmallUncoveredSet(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "plain.go", "package main\n\nfunc plain() {}\n")

	ai := stubChatClient{content: "plain.go: extract a helper function\n"}
	p := NewImproveFind(dir, nil, nil, ai)
	cc := cycle.New("c1", time.Now())

	result, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)
	assert.True(t, result.Success)

	found := false
	for _, imp := range cc.Improvements {
		if imp.Type == "ai-suggested" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestImproveFind_ToolAdoptionRecommendedForGoWithoutLintConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "plain.go", "package main\n\nfunc plain() {}\n")

	p := NewImproveFind(dir, nil, nil, nil)
	cc := cycle.New("c1", time.Now())

	_, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)

	found := false
	for _, imp := range cc.Improvements {
		if imp.Type == "tool-adoption" {
			found = true
		}
	}
	assert.True(t, found)
}
