package verify

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycleforge/agent/internal/safety"
	"github.com/cycleforge/agent/internal/sandbox"
)

func initGitRepo(t *testing.T, dir string) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi\n"), 0o644))
	run("add", "-A")
	run("commit", "-q", "-m", "init")
}

func TestVerifyWithRetry_CommitsOnCleanBuildAndTests(t *testing.T) {
	dir := t.TempDir()
	initGitRepo(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "changed.txt"), []byte("x"), 0o644))

	provider := sandbox.NewMockProvider()
	provider.SetOutput([]string{"make", "build"}, sandbox.MockResult{ExitCode: 0, Stdout: "ok"})
	provider.SetOutput([]string{"make", "test"}, sandbox.MockResult{ExitCode: 0, Stdout: "--- PASS: TestFoo\n"})

	sb := sandbox.New(provider, "debian:bookworm-slim")
	framework := &sandbox.Framework{Name: "generic", BuildCommand: []string{"make", "build"}, TestCommand: []string{"make", "test"}}
	guard := safety.New(dir, 500, nil)

	v := New(dir, sb, framework, guard, nil, nil, "", false, true, nil)
	result, err := v.VerifyWithRetry(context.Background(), "cycle-1", nil, "automated: test commit", 3)
	require.NoError(t, err)

	assert.True(t, result.BuildPassed)
	assert.True(t, result.TestsPassed)
	assert.True(t, result.Committed)
	assert.NotEmpty(t, result.CommitHash)
	assert.False(t, result.RolledBack)
}

func TestVerifyWithRetry_RollsBackOnFailingTests(t *testing.T) {
	dir := t.TempDir()
	initGitRepo(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "changed.txt"), []byte("x"), 0o644))

	snapDir := t.TempDir()
	snapshots := safety.NewSnapshotManager(snapDir, dir, 10)
	snap, err := snapshots.Create("cycle-1", []string{"changed.txt"})
	require.NoError(t, err)

	provider := sandbox.NewMockProvider()
	provider.SetOutput([]string{"make", "build"}, sandbox.MockResult{ExitCode: 0, Stdout: "ok"})
	provider.SetOutput([]string{"make", "test"}, sandbox.MockResult{ExitCode: 1, Stdout: "--- FAIL: TestFoo\n"})

	sb := sandbox.New(provider, "debian:bookworm-slim")
	framework := &sandbox.Framework{Name: "generic", BuildCommand: []string{"make", "build"}, TestCommand: []string{"make", "test"}}
	guard := safety.New(dir, 500, nil)

	v := New(dir, sb, framework, guard, snapshots, nil, "", false, true, nil)
	result, err := v.VerifyWithRetry(context.Background(), "cycle-1", snap, "automated: test commit", 3)
	require.NoError(t, err)

	assert.True(t, result.RolledBack)
	assert.False(t, result.Committed)
}

func TestVerifyWithRetry_BuildFailureExhaustsRetriesAndRollsBack(t *testing.T) {
	dir := t.TempDir()
	initGitRepo(t, dir)

	provider := sandbox.NewMockProvider()
	provider.SetOutput([]string{"make", "build"}, sandbox.MockResult{ExitCode: 1, Stderr: "main.go:1:1: undefined: foo"})

	sb := sandbox.New(provider, "debian:bookworm-slim")
	framework := &sandbox.Framework{Name: "generic", BuildCommand: []string{"make", "build"}, TestCommand: []string{"make", "test"}}
	guard := safety.New(dir, 500, nil)

	v := New(dir, sb, framework, guard, nil, nil, "", false, true, nil)
	result, err := v.VerifyWithRetry(context.Background(), "cycle-1", nil, "automated: test commit", 1)
	require.NoError(t, err)

	assert.True(t, result.RolledBack)
	assert.True(t, result.AutoFixAttempted)
	assert.False(t, result.Committed)
}
