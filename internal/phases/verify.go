package phases

import (
	"context"
	"fmt"

	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/safety"
	"github.com/cycleforge/agent/internal/verify"
)

// Verify is Phase 8 (spec.md §4.L), wrapping *verify.Verifier behind the
// uniform Phase contract.
type Verify struct {
	verifier   *verify.Verifier
	maxRetries int
	snapshot   *safety.Snapshot
}

// NewVerify creates Phase 8.
func NewVerify(verifier *verify.Verifier, maxRetries int) *Verify {
	return &Verify{verifier: verifier, maxRetries: maxRetries}
}

// SetSnapshot installs the pre-change snapshot the Verifier rolls back to
// on failure. The Orchestrator takes this snapshot (of cc.Plan's
// AffectedFiles) right before Phase 6 (Implement) runs and installs it
// here before invoking this phase — Phase 8 itself runs too late to
// capture a meaningful "before" state.
func (p *Verify) SetSnapshot(s *safety.Snapshot) { p.snapshot = s }

func (p *Verify) Name() cycle.FailedPhaseName { return cycle.PhaseVerify }

func (p *Verify) Execute(ctx context.Context, cc *cycle.Context) (PhaseResult, error) {
	message := commitMessageFor(cc)
	result, err := p.verifier.VerifyWithRetry(ctx, cc.CycleID, p.snapshot, message, p.maxRetries)
	if err != nil {
		return PhaseResult{}, fmt.Errorf("phases: verify: %w", err)
	}
	cc.TestResults = result.TestResult

	data := map[string]any{
		"build_passed": result.BuildPassed,
		"tests_passed": result.TestsPassed,
		"committed":    result.Committed,
		"rolled_back":  result.RolledBack,
	}

	if result.RolledBack {
		return PhaseResult{Success: false, Message: result.RollbackReason, Data: data}, nil
	}
	return PhaseResult{
		Success: true,
		Message: fmt.Sprintf("verified and committed %s", result.CommitHash),
		Data:    data,
	}, nil
}

func commitMessageFor(cc *cycle.Context) string {
	if cc.Plan != nil {
		return fmt.Sprintf("automated: %s", cc.Plan.Description)
	}
	return fmt.Sprintf("automated: cycle %s", cc.CycleID)
}
