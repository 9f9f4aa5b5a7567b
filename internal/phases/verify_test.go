package phases

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/safety"
	"github.com/cycleforge/agent/internal/sandbox"
	"github.com/cycleforge/agent/internal/verify"
)

func initGitRepoForPhaseTest(t *testing.T, dir string) {
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

func TestVerifyPhase_CommitsOnCleanRun(t *testing.T) {
	dir := t.TempDir()
	initGitRepoForPhaseTest(t, dir)

	provider := sandbox.NewMockProvider()
	provider.SetOutput([]string{"make", "build"}, sandbox.MockResult{ExitCode: 0, Stdout: "ok"})
	provider.SetOutput([]string{"make", "test"}, sandbox.MockResult{ExitCode: 0, Stdout: "--- PASS: TestFoo\n"})

	sb := sandbox.New(provider, "debian:bookworm-slim")
	framework := &sandbox.Framework{Name: "generic", BuildCommand: []string{"make", "build"}, TestCommand: []string{"make", "test"}}
	guard := safety.New(dir, 500, nil)

	verifier := verify.New(dir, sb, framework, guard, nil, nil, "", false, true, nil)
	p := NewVerify(verifier, 3)

	cc := cycle.New("cycle-1", time.Now())
	cc.Plan = &cycle.Plan{Description: "test change"}

	result, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, cc.TestResults)
	assert.True(t, cc.TestResults.Passed)
}

func TestVerifyPhase_RollbackReportedAsFailure(t *testing.T) {
	dir := t.TempDir()
	initGitRepoForPhaseTest(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "changed.txt"), []byte("x"), 0o644))

	provider := sandbox.NewMockProvider()
	provider.SetOutput([]string{"make", "build"}, sandbox.MockResult{ExitCode: 0, Stdout: "ok"})
	provider.SetOutput([]string{"make", "test"}, sandbox.MockResult{ExitCode: 1, Stdout: "--- FAIL: TestFoo\n"})

	sb := sandbox.New(provider, "debian:bookworm-slim")
	framework := &sandbox.Framework{Name: "generic", BuildCommand: []string{"make", "build"}, TestCommand: []string{"make", "test"}}
	guard := safety.New(dir, 500, nil)

	verifier := verify.New(dir, sb, framework, guard, nil, nil, "", false, true, nil)
	p := NewVerify(verifier, 3)

	cc := cycle.New("cycle-1", time.Now())
	cc.Plan = &cycle.Plan{Description: "test change"}

	result, err := p.Execute(context.Background(), cc)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "tests failed")
}
