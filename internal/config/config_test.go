package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"), "")
	require.NoError(t, err)
	assert.Equal(t, Default().CheckInterval, cfg.CheckInterval)
	assert.Equal(t, 5, cfg.Limits.MaxFilesPerChange)
}

func TestLoad_MergesOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"checkInterval": 600000000000,
		"git": {"autoPush": true, "pushRemote": "upstream"},
		"limits": {"maxConsecutiveFailures": 3}
	}`), 0o644))

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.CheckInterval)
	assert.True(t, cfg.Git.AutoPush)
	assert.Equal(t, "upstream", cfg.Git.PushRemote)
	assert.Equal(t, 3, cfg.Limits.MaxConsecutiveFailures)
	// Untouched defaults survive the merge.
	assert.Equal(t, 500, cfg.Limits.MaxLinesPerFile)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"limits":{"maxConsecutiveFailures":5}}`), 0o644))

	debounceReload = 0
	w, err := NewWatcher(path, "", nil)
	require.NoError(t, err)
	defer w.Stop()
	w.Start()

	assert.Equal(t, 5, w.Current().Limits.MaxConsecutiveFailures)

	require.NoError(t, os.WriteFile(path, []byte(`{"limits":{"maxConsecutiveFailures":9}}`), 0o644))

	require.Eventually(t, func() bool {
		return w.Current().Limits.MaxConsecutiveFailures == 9
	}, 2*time.Second, 20*time.Millisecond)
}
