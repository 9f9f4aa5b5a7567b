package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeModule(t *testing.T, dir, modulePath string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module "+modulePath+"\n\ngo 1.22\n"), 0o644))
}

func writePkg(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestDetectImportCycles_NoCycle(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "example.com/app")
	writePkg(t, dir, "a/a.go", "package a\n")
	writePkg(t, dir, "b/b.go", "package b\n\nimport \"example.com/app/a\"\n\nvar _ = a.X\n")

	cycles, err := detectImportCycles(dir)
	require.NoError(t, err)
	assert.Empty(t, cycles)
}

func TestDetectImportCycles_DetectsDirectCycle(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "example.com/app")
	writePkg(t, dir, "a/a.go", "package a\n\nimport \"example.com/app/b\"\n\nvar _ = b.X\n")
	writePkg(t, dir, "b/b.go", "package b\n\nimport \"example.com/app/a\"\n\nvar _ = a.X\n")

	cycles, err := detectImportCycles(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, cycles)
}

func TestDetectImportCycles_NoGoModSkipsCheck(t *testing.T) {
	dir := t.TempDir()
	cycles, err := detectImportCycles(dir)
	require.NoError(t, err)
	assert.Empty(t, cycles)
}
