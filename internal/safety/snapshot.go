package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a point-in-time copy of the files a Plan is about to touch,
// taken before Phase 6 (implement) applies any Change, so Phase 8 (verify)
// can roll back a failed cycle (spec.md §3 component E, §4.F step 1).
type Snapshot struct {
	ID        string            `json:"id"`
	CycleID   string            `json:"cycle_id"`
	CreatedAt time.Time         `json:"created_at"`
	Files     map[string]string `json:"files"` // relative path -> snapshot copy path
}

// SnapshotManager creates and restores Snapshots under a dedicated
// directory, retaining only the most recent maxSnapshots (spec.md §6
// Limits.maxSnapshots, an LRU-by-creation-time retention policy).
type SnapshotManager struct {
	dir           string
	workspaceRoot string
	maxSnapshots  int
}

// NewSnapshotManager creates a manager storing snapshots under dir.
func NewSnapshotManager(dir, workspaceRoot string, maxSnapshots int) *SnapshotManager {
	return &SnapshotManager{dir: dir, workspaceRoot: workspaceRoot, maxSnapshots: maxSnapshots}
}

// Create copies every file in relPaths (paths relative to workspaceRoot)
// into a new snapshot directory, skipping files that do not yet exist
// (a Change that creates a new file has nothing to snapshot).
func (m *SnapshotManager) Create(cycleID string, relPaths []string) (*Snapshot, error) {
	snap := &Snapshot{
		ID:        uuid.NewString(),
		CycleID:   cycleID,
		CreatedAt: time.Now(),
		Files:     make(map[string]string),
	}
	snapDir := filepath.Join(m.dir, snap.ID)
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return nil, fmt.Errorf("safety: create snapshot dir: %w", err)
	}

	for i, rel := range relPaths {
		src := filepath.Join(m.workspaceRoot, rel)
		data, err := os.ReadFile(src)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("safety: read %q for snapshot: %w", rel, err)
		}
		dst := filepath.Join(snapDir, fmt.Sprintf("%d", i))
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return nil, fmt.Errorf("safety: write snapshot copy of %q: %w", rel, err)
		}
		snap.Files[rel] = dst
	}

	if err := m.prune(); err != nil {
		return snap, err
	}
	return snap, nil
}

// Restore writes every captured file back to its original location,
// reverting a failed cycle's changes (spec.md §4.L "rollback").
func (m *SnapshotManager) Restore(snap *Snapshot) error {
	for rel, snapPath := range snap.Files {
		data, err := os.ReadFile(snapPath)
		if err != nil {
			return fmt.Errorf("safety: read snapshot copy of %q: %w", rel, err)
		}
		dst := filepath.Join(m.workspaceRoot, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("safety: restore mkdir for %q: %w", rel, err)
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("safety: restore %q: %w", rel, err)
		}
	}
	return nil
}

// prune removes the oldest snapshot directories beyond maxSnapshots.
func (m *SnapshotManager) prune() error {
	if m.maxSnapshots <= 0 {
		return nil
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("safety: list snapshots: %w", err)
	}

	type entryInfo struct {
		name    string
		modTime time.Time
	}
	var infos []entryInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, entryInfo{name: e.Name(), modTime: fi.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].modTime.Before(infos[j].modTime) })

	for len(infos) > m.maxSnapshots {
		if err := os.RemoveAll(filepath.Join(m.dir, infos[0].name)); err != nil {
			return fmt.Errorf("safety: prune snapshot %q: %w", infos[0].name, err)
		}
		infos = infos[1:]
	}
	return nil
}
