package phases

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/trouble"
)

func TestHealthCheck_HealthyByDefault(t *testing.T) {
	repo := trouble.NewRepository(filepath.Join(t.TempDir(), "troubles.json"), 100)
	p := NewHealthCheck(repo, 0, 0, "idle")

	result, err := p.Execute(context.Background(), cycle.New("c1", time.Now()))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.ShouldStop)
}

func TestHealthCheck_DegradedGoroutinesStops(t *testing.T) {
	repo := trouble.NewRepository(filepath.Join(t.TempDir(), "troubles.json"), 100)
	p := NewHealthCheck(repo, 0, 1, "idle")

	result, err := p.Execute(context.Background(), cycle.New("c1", time.Now()))
	require.NoError(t, err)
	assert.True(t, result.ShouldStop)
}
