package phases

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/safety"
)

func TestImplement_NoPlanFails(t *testing.T) {
	guard := safety.New(t.TempDir(), 0, nil)
	p := NewImplement(t.TempDir(), guard, nil, 3)

	result, err := p.Execute(context.Background(), cycle.New("c1", time.Now()))
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestImplement_NilAIWritesStub(t *testing.T) {
	dir := t.TempDir()
	guard := safety.New(dir, 0, nil)
	p := NewImplement(dir, guard, nil, 3)

	cc := cycle.New("c1", time.Now())
	cc.Plan = &cycle.Plan{ID: "p1", Description: "fix widget", AffectedFiles: []string{"widget.go"}}

	result, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, cc.ImplementedChanges, 1)
	assert.Equal(t, cycle.ChangeCreate, cc.ImplementedChanges[0].ChangeType)

	data, rerr := os.ReadFile(filepath.Join(dir, "widget.go"))
	require.NoError(t, rerr)
	assert.Contains(t, string(data), "fix widget")
}

func TestImplement_ExistingFileIsModify(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "widget.go"), []byte("package main\n"), 0o644))
	guard := safety.New(dir, 0, nil)
	p := NewImplement(dir, guard, nil, 3)

	cc := cycle.New("c1", time.Now())
	cc.Plan = &cycle.Plan{ID: "p1", Description: "fix widget", AffectedFiles: []string{"widget.go"}}

	_, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)
	assert.Equal(t, cycle.ChangeModify, cc.ImplementedChanges[0].ChangeType)
}

func TestImplement_AIRetriesThenFallsBackToStub(t *testing.T) {
	dir := t.TempDir()
	guard := safety.New(dir, 0, nil)
	ai := stubChatClient{content: "func broken(" /* unbalanced, always rejected */}
	p := NewImplement(dir, guard, ai, 2)

	cc := cycle.New("c1", time.Now())
	cc.Plan = &cycle.Plan{ID: "p1", Description: "fix widget", AffectedFiles: []string{"widget.go"}}

	result, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)
	assert.True(t, result.Success)

	data, rerr := os.ReadFile(filepath.Join(dir, "widget.go"))
	require.NoError(t, rerr)
	assert.Contains(t, string(data), "auto-generated stub")
}

func TestImplement_AIErrorFallsBackToStub(t *testing.T) {
	dir := t.TempDir()
	guard := safety.New(dir, 0, nil)
	ai := stubChatClient{err: errors.New("provider unavailable")}
	p := NewImplement(dir, guard, ai, 2)

	cc := cycle.New("c1", time.Now())
	cc.Plan = &cycle.Plan{ID: "p1", Description: "fix widget", AffectedFiles: []string{"widget.go"}}

	_, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)

	data, rerr := os.ReadFile(filepath.Join(dir, "widget.go"))
	require.NoError(t, rerr)
	assert.Contains(t, string(data), "auto-generated stub")
}
