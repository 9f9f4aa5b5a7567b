package learning

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractor_ExtractCreatesTemplatePatternForShortDiff(t *testing.T) {
	repo := NewRepository(filepath.Join(t.TempDir(), "patterns.json"), nil)
	x := NewExtractor(repo)

	p, err := x.Extract(ExtractionContext{
		File:     "internal/foo/bar.go",
		Before:   "console.log(\"debug\")",
		After:    "// removed debug log",
		Category: "lint-error",
		Success:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, SolutionTemplate, p.Solution.Type)
	assert.Contains(t, p.Conditions[0].Value, "src")
}

func TestExtractor_ExtractUsesAIPromptForLongDiff(t *testing.T) {
	repo := NewRepository(filepath.Join(t.TempDir(), "patterns.json"), nil)
	x := NewExtractor(repo)

	p, err := x.Extract(ExtractionContext{
		File:     "internal/foo/bar.go",
		Before:   strings.Repeat("x", 600),
		After:    strings.Repeat("y", 600),
		Category: "build-error",
		Success:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, SolutionAIPrompt, p.Solution.Type)
}

func TestExtractor_ExtractRejectsUnsuccessfulContext(t *testing.T) {
	repo := NewRepository(filepath.Join(t.TempDir(), "patterns.json"), nil)
	x := NewExtractor(repo)
	_, err := x.Extract(ExtractionContext{Success: false})
	require.Error(t, err)
}

func TestExtractor_RecordFailure(t *testing.T) {
	repo := NewRepository(filepath.Join(t.TempDir(), "patterns.json"), nil)
	x := NewExtractor(repo)

	require.NoError(t, x.RecordFailure("build-error", "undefined symbol foo", "a.go", "added import", "still broken"))

	matches, err := repo.FailuresFor("build-error", "undefined symbol foo")
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestGlobFor_ClassifiesTestFolder(t *testing.T) {
	assert.Contains(t, globFor("internal/foo/bar_test.go"), "**/src/**")
	assert.Contains(t, globFor("test/bar.go"), "**/test/**")
}
