package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/trouble"
)

func TestNewRootCommand_RegistersExpectedFlags(t *testing.T) {
	cmd := newRootCommand()

	for _, name := range []string{"config", "env-file", "once", "verbose"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing --%s flag", name)
	}

	configFlag := cmd.Flags().Lookup("config")
	assert.Equal(t, "config.json", configFlag.DefValue)

	onceFlag := cmd.Flags().Lookup("once")
	assert.Equal(t, "false", onceFlag.DefValue)
}

func TestTroubleNotes_FiltersByFile(t *testing.T) {
	dir := t.TempDir()
	repo := trouble.NewRepository(dir+"/troubles.json", 100)

	require.NoError(t, repo.Record(cycle.Trouble{
		ID: "t1", CycleID: "c1", Category: cycle.CategoryBuildError,
		Severity: cycle.SeverityHigh, Message: "undefined symbol", File: "main.go",
		OccurredAt: time.Now(),
	}))
	require.NoError(t, repo.Record(cycle.Trouble{
		ID: "t2", CycleID: "c1", Category: cycle.CategoryBuildError,
		Severity: cycle.SeverityLow, Message: "unrelated", File: "other.go",
		OccurredAt: time.Now(),
	}))

	notes := troubleNotes{repo: repo}
	got := notes.NotesFor("main.go")
	require.Len(t, got, 1)
	assert.Equal(t, "undefined symbol", got[0])

	assert.Empty(t, notes.NotesFor("nonexistent.go"))
}

func TestPrintReport_DoesNotPanicOnZeroValueResult(t *testing.T) {
	assert.NotPanics(t, func() {
		printReport(cycle.Result{})
	})
}

func TestPrintReport_DoesNotPanicOnFullResult(t *testing.T) {
	assert.NotPanics(t, func() {
		printReport(cycle.Result{
			CycleID:      "abc123",
			Success:      true,
			Duration:     2 * time.Second,
			TroubleCount: 1,
			ShouldRetry:  true,
			RetryReason:  "rate limited",
			FailedPhase:  cycle.PhaseVerify,
			SkippedEarly: false,
			RolledBack:   false,
			Quality:      cycle.QualityPartial,
		})
	})
}
