package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cycleforge/agent/internal/aiprovider"
	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/safety"
)

// ChatClient is the narrow AI surface the auto-repair loop needs, satisfied
// by *aiprovider.LLMClient.
type ChatClient interface {
	Chat(ctx context.Context, req aiprovider.Request) (*aiprovider.Response, error)
}

// AutoFixResult summarizes one VerifyWithRetry auto-fix loop.
type AutoFixResult struct {
	Attempts        int
	FixedCount      int
	RemainingErrors int
}

// maxNoProgressAttempts aborts the loop after this many consecutive
// attempts make no progress (spec.md §8 invariant 9 "Verifier progress
// guard").
const maxNoProgressAttempts = 2

// autoFixLoop runs up to maxRetries+1 attempts, preferring mechanical fixes
// and falling back to AI repair, stopping early on repeated no-progress
// (spec.md §4.L step 3).
func (v *Verifier) autoFixLoop(ctx context.Context, errs []BuildError, maxRetries int) ([]BuildError, AutoFixResult, error) {
	remaining := errs
	result := AutoFixResult{RemainingErrors: len(remaining)}
	noProgressStreak := 0

	for attempt := 0; attempt <= maxRetries && len(remaining) > 0; attempt++ {
		result.Attempts++
		fixedThisAttempt := 0

		for _, be := range remaining {
			var ok bool
			var err error
			if be.FixStrategy == FixMechanical {
				ok, err = v.mechanicalFix(be)
			} else {
				ok, err = v.aiRepair(ctx, be)
			}
			if err != nil {
				v.logger.WithError(err).WithField("file", be.File).Warn("verify: repair attempt failed")
				continue
			}
			if ok {
				fixedThisAttempt++
			}
		}
		result.FixedCount += fixedThisAttempt

		run, err := v.runFrameworkCommand(ctx, v.framework.BuildCommand)
		if err != nil {
			return remaining, result, err
		}
		newErrs := ParseBuildErrors(run.Stdout + "\n" + run.Stderr)

		if fixedThisAttempt == 0 && len(newErrs) >= len(remaining) {
			noProgressStreak++
		} else {
			noProgressStreak = 0
		}
		remaining = newErrs
		result.RemainingErrors = len(remaining)

		if noProgressStreak >= maxNoProgressAttempts {
			break
		}
	}

	return remaining, result, nil
}

// mechanicalFix handles the duplicate-path case: renaming a file whose
// path has a doubled segment prefix to its collapsed form (spec.md §4.L
// step 3 "mechanical first (file move/rename with path normalization)").
func (v *Verifier) mechanicalFix(be BuildError) (bool, error) {
	normalized := safety.CollapseDuplicatePrefix(be.File)
	if normalized == be.File {
		return false, nil
	}
	oldPath := filepath.Join(v.workspaceRoot, be.File)
	newPath := filepath.Join(v.workspaceRoot, normalized)

	if _, err := os.Stat(oldPath); err != nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return false, err
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return false, err
	}
	return true, nil
}

// aiRepair asks the AI provider for a corrected whole-file artifact,
// validates and (if required) reviews it, writes it, and rechecks with a
// single build before keeping it — restoring the original on any failure
// (spec.md §4.L step 3).
func (v *Verifier) aiRepair(ctx context.Context, be BuildError) (bool, error) {
	if v.guard.IsStrictlyProtected(be.File) {
		return false, nil
	}
	if v.ai == nil {
		return false, nil
	}

	path := filepath.Join(v.workspaceRoot, be.File)
	original, err := os.ReadFile(path)
	if err != nil {
		return false, nil
	}

	resp, err := v.ai.Chat(ctx, aiprovider.Request{
		SystemMsg: "You fix a single build error. Return only the complete corrected file contents, no commentary, no markdown fences.",
		Prompt:    fmt.Sprintf("File: %s\nBuild error: %s\n\nCurrent contents:\n%s", be.File, be.Message, string(original)),
	})
	if err != nil {
		return false, err
	}
	fixed := resp.Content

	warnings, err := v.guard.ValidateCodeContent(fixed)
	if err != nil {
		return false, nil
	}
	if len(warnings) > 0 {
		approved, _, rerr := v.guard.ValidateCodeWithAI(be.File, fixed, warnings)
		if rerr != nil || !approved {
			return false, nil
		}
	}
	if v.guard.IsConditionallyProtected(be.File) {
		approved, _, rerr := v.guard.ReviewProtectedFileChange(cycle.Change{File: be.File, ChangeType: cycle.ChangeModify}, fixed)
		if rerr != nil || !approved {
			return false, nil
		}
	}

	if err := os.WriteFile(path, []byte(fixed), 0o644); err != nil {
		return false, err
	}

	run, err := v.runFrameworkCommand(ctx, v.framework.BuildCommand)
	if err != nil || !run.Passed() {
		_ = os.WriteFile(path, original, 0o644)
		return false, nil
	}
	return true, nil
}
