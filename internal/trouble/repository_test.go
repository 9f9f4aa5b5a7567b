package trouble

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycleforge/agent/internal/cycle"
)

func newTrouble(id, msg string) cycle.Trouble {
	return cycle.Trouble{
		ID:         id,
		CycleID:    "cycle-1",
		Phase:      "error-detect",
		Category:   cycle.CategoryBuildError,
		Severity:   cycle.SeverityHigh,
		Message:    msg,
		OccurredAt: time.Now(),
	}
}

func TestRepository_RecordAndActive(t *testing.T) {
	repo := NewRepository(filepath.Join(t.TempDir(), "troubles.json"), 10)
	require.NoError(t, repo.Record(newTrouble("t1", "undefined symbol foo")))

	active, err := repo.Active()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "t1", active[0].ID)
}

func TestRepository_RotatesOldestIntoArchiveBeyondMax(t *testing.T) {
	repo := NewRepository(filepath.Join(t.TempDir(), "troubles.json"), 2)
	for i := 0; i < 4; i++ {
		tr := newTrouble(string(rune('a'+i)), "msg")
		tr.OccurredAt = time.Now().Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Record(tr))
	}
	active, err := repo.Active()
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestRepository_Resolve(t *testing.T) {
	repo := NewRepository(filepath.Join(t.TempDir(), "troubles.json"), 10)
	require.NoError(t, repo.Record(newTrouble("t1", "undefined symbol foo")))
	require.NoError(t, repo.Resolve("t1", "auto-repair"))

	active, err := repo.Active()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].Resolved)
	assert.Equal(t, "auto-repair", active[0].ResolvedBy)
}

func TestRepository_Resolve_UnknownIDErrors(t *testing.T) {
	repo := NewRepository(filepath.Join(t.TempDir(), "troubles.json"), 10)
	err := repo.Resolve("missing", "x")
	require.Error(t, err)
}

func TestRepository_FindSimilar(t *testing.T) {
	repo := NewRepository(filepath.Join(t.TempDir(), "troubles.json"), 10)
	require.NoError(t, repo.Record(newTrouble("t1", "undefined symbol foo in package bar")))
	require.NoError(t, repo.Record(newTrouble("t2", "undefined symbol baz in package bar")))
	require.NoError(t, repo.Record(newTrouble("t3", "completely unrelated network timeout")))

	matches, err := repo.FindSimilar(newTrouble("t4", "undefined symbol qux in package bar"), 0.3)
	require.NoError(t, err)

	var ids []string
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	assert.Contains(t, ids, "t1")
	assert.Contains(t, ids, "t2")
	assert.NotContains(t, ids, "t3")
}
