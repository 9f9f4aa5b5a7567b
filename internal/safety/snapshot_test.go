package safety

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotManager_CreateAndRestore(t *testing.T) {
	workspace := t.TempDir()
	snapDir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "internal/foo"), 0o755))
	original := filepath.Join(workspace, "internal/foo/bar.go")
	require.NoError(t, os.WriteFile(original, []byte("package foo\n"), 0o644))

	m := NewSnapshotManager(snapDir, workspace, 10)
	snap, err := m.Create("cycle-1", []string{"internal/foo/bar.go"})
	require.NoError(t, err)
	assert.Contains(t, snap.Files, "internal/foo/bar.go")

	require.NoError(t, os.WriteFile(original, []byte("package foo\n\nfunc broken() {"), 0o644))

	require.NoError(t, m.Restore(snap))

	data, err := os.ReadFile(original)
	require.NoError(t, err)
	assert.Equal(t, "package foo\n", string(data))
}

func TestSnapshotManager_SkipsMissingFiles(t *testing.T) {
	workspace := t.TempDir()
	m := NewSnapshotManager(t.TempDir(), workspace, 10)
	snap, err := m.Create("cycle-1", []string{"does/not/exist.go"})
	require.NoError(t, err)
	assert.Empty(t, snap.Files)
}

func TestSnapshotManager_PrunesOldest(t *testing.T) {
	workspace := t.TempDir()
	snapDir := t.TempDir()
	m := NewSnapshotManager(snapDir, workspace, 2)

	for i := 0; i < 4; i++ {
		_, err := m.Create("cycle-1", nil)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	entries, err := os.ReadDir(snapDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
