package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateGitignore_CreatesFileWithNewPatterns(t *testing.T) {
	dir := t.TempDir()
	changed, err := updateGitignore(dir, []string{"dist/", "coverage.out"})
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "dist/")
	assert.Contains(t, string(data), "coverage.out")
}

func TestUpdateGitignore_NoopWhenAlreadyPresent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("dist/\n"), 0o644))

	changed, err := updateGitignore(dir, []string{"dist/"})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestDetectIgnorablePatterns_OnlyExistingPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "node_modules"), 0o755))

	patterns := detectIgnorablePatterns(dir)
	assert.Contains(t, patterns, "node_modules/")
	assert.NotContains(t, patterns, "dist/")
}
