// Package verify implements the Verifier (spec.md §4.L): confirms a
// cycle's changes build and pass tests, attempts bounded auto-repair on
// failure, commits on success, and optionally pushes. Builds and tests run
// inside internal/sandbox containers so a repair attempt's generated code
// never executes against the host before it is known good.
package verify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/sandbox"
	"github.com/cycleforge/agent/internal/safety"
)

// VerificationResult is VerifyWithRetry's public contract (spec.md §4.L).
type VerificationResult struct {
	BuildPassed      bool
	TestsPassed      bool
	BuildErrors      []BuildError
	TestResult       *cycle.TestResult
	AutoFixAttempted bool
	AutoFixResult    *AutoFixResult
	Committed        bool
	CommitHash       string
	Pushed           bool
	PushResult       *PushResult
	RolledBack       bool
	RollbackReason   string
	GitignoreUpdated bool
}

// Verifier runs the build/test/auto-repair/commit/push pipeline for one
// cycle's snapshot of changes.
type Verifier struct {
	workspaceRoot  string
	sandbox        *sandbox.Sandbox
	framework      *sandbox.Framework
	guard          *safety.Guard
	snapshots      *safety.SnapshotManager
	ai             ChatClient
	gitRemote      string
	allowProtected bool
	autoGitignore  bool
	logger         *logrus.Logger
}

// New creates a Verifier. framework selects the build/test/lint commands
// and container image; pass nil to auto-detect via sandbox.Detect.
// autoGitignore gates the unprompted .gitignore mutation behind
// config.Git.AutoUpdateGitignore (spec.md §9 Open Question, see DESIGN.md) —
// when false, the Verifier neither detects ignorable patterns nor touches
// .gitignore.
func New(workspaceRoot string, sb *sandbox.Sandbox, framework *sandbox.Framework, guard *safety.Guard, snapshots *safety.SnapshotManager, ai ChatClient, gitRemote string, allowProtected, autoGitignore bool, logger *logrus.Logger) *Verifier {
	if framework == nil {
		framework = sandbox.Detect(workspaceRoot)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Verifier{
		workspaceRoot:  workspaceRoot,
		sandbox:        sb,
		framework:      framework,
		guard:          guard,
		snapshots:      snapshots,
		ai:             ai,
		gitRemote:      gitRemote,
		allowProtected: allowProtected,
		autoGitignore:  autoGitignore,
		logger:         logger,
	}
}

func (v *Verifier) runFrameworkCommand(ctx context.Context, command []string) (sandbox.RunResult, error) {
	return v.sandbox.Run(ctx, v.workspaceRoot, command, v.framework.Environment)
}

// VerifyWithRetry runs the full build -> classify -> auto-fix -> rollback ->
// integrity -> test -> commit -> push pipeline (spec.md §4.L "state machine
// per attempt: build -> [classify -> fix -> rebuild]x -> (commit v
// rollback)").
func (v *Verifier) VerifyWithRetry(ctx context.Context, cycleID string, snapshot *safety.Snapshot, commitMessage string, maxRetries int) (*VerificationResult, error) {
	result := &VerificationResult{}
	v.logger.WithField("cycle_id", cycleID).Info("verify: starting verification")

	buildRun, err := v.runFrameworkCommand(ctx, v.framework.BuildCommand)
	if err != nil {
		return nil, fmt.Errorf("verify: run build: %w", err)
	}

	buildErrs := ParseBuildErrors(buildRun.Stdout + "\n" + buildRun.Stderr)
	result.BuildErrors = buildErrs
	result.BuildPassed = buildRun.Passed() && len(buildErrs) == 0

	if !result.BuildPassed {
		result.AutoFixAttempted = true
		remaining, fixResult, fixErr := v.autoFixLoop(ctx, buildErrs, maxRetries)
		result.AutoFixResult = &fixResult
		result.BuildErrors = remaining
		if fixErr != nil {
			return nil, fmt.Errorf("verify: auto-fix loop: %w", fixErr)
		}

		if len(remaining) > 0 {
			return v.rollback(ctx, snapshot, result, "build failed after exhausting auto-repair attempts")
		}
		result.BuildPassed = true
	}

	if cycles, err := detectImportCycles(v.workspaceRoot); err != nil {
		v.logger.WithError(err).Warn("verify: import cycle detection failed, continuing")
	} else if len(cycles) > 0 {
		return v.rollback(ctx, snapshot, result, fmt.Sprintf("circular dependency detected: %v", cycles))
	}

	testRun, err := v.runFrameworkCommand(ctx, v.framework.TestCommand)
	if err != nil {
		return nil, fmt.Errorf("verify: run tests: %w", err)
	}
	outcome := parseTestCounts(testRun.Stdout + "\n" + testRun.Stderr)
	outcome.Duration = testRun.Duration
	outcome.Passed = testRun.Passed() && outcome.FailedTests == 0
	result.TestResult = &outcome
	result.TestsPassed = outcome.Passed

	if !result.TestsPassed {
		return v.rollback(ctx, snapshot, result, "tests failed after a passing build")
	}

	if v.autoGitignore {
		if changed, err := updateGitignore(v.workspaceRoot, detectIgnorablePatterns(v.workspaceRoot)); err != nil {
			v.logger.WithError(err).Warn("verify: gitignore update failed, continuing")
		} else {
			result.GitignoreUpdated = changed
		}
	}

	hash, err := commit(ctx, v.workspaceRoot, commitMessage)
	if err != nil {
		return nil, fmt.Errorf("verify: commit: %w", err)
	}
	result.Committed = true
	result.CommitHash = hash

	if v.gitRemote != "" {
		pushResult, err := push(ctx, v.workspaceRoot, v.gitRemote, v.allowProtected)
		if err != nil {
			v.logger.WithError(err).Warn("verify: push failed, commit retained locally")
		} else {
			result.Pushed = true
			result.PushResult = pushResult
		}
	}

	return result, nil
}

func (v *Verifier) rollback(ctx context.Context, snapshot *safety.Snapshot, result *VerificationResult, reason string) (*VerificationResult, error) {
	if snapshot != nil && v.snapshots != nil {
		if err := v.snapshots.Restore(snapshot); err != nil {
			return result, fmt.Errorf("verify: rollback restore: %w", err)
		}
	}
	result.RolledBack = true
	result.RollbackReason = reason
	return result, nil
}
