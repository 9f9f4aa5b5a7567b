package phases

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/queue"
	"github.com/cycleforge/agent/internal/sandbox"
	"github.com/cycleforge/agent/internal/trouble"
	"github.com/cycleforge/agent/internal/verify"
)

// ErrorDetect is Phase 2 (spec.md §4.K "Scans for build errors and recent
// troubles. Appends Issue entries to ctx.issues. If none and no queued
// improvements, signals shouldStop to allow the orchestrator's no-op
// path").
type ErrorDetect struct {
	workspaceRoot string
	sandbox       *sandbox.Sandbox
	framework     *sandbox.Framework
	troubles      *trouble.Repository
	queue         *queue.Queue
}

// NewErrorDetect creates Phase 2. framework nil auto-detects via
// sandbox.Detect.
func NewErrorDetect(workspaceRoot string, sb *sandbox.Sandbox, framework *sandbox.Framework, troubles *trouble.Repository, q *queue.Queue) *ErrorDetect {
	if framework == nil {
		framework = sandbox.Detect(workspaceRoot)
	}
	return &ErrorDetect{workspaceRoot: workspaceRoot, sandbox: sb, framework: framework, troubles: troubles, queue: q}
}

func (p *ErrorDetect) Name() cycle.FailedPhaseName { return cycle.PhaseErrorDetect }

func (p *ErrorDetect) Execute(ctx context.Context, cc *cycle.Context) (PhaseResult, error) {
	run, err := p.sandbox.Run(ctx, p.workspaceRoot, p.framework.BuildCommand, p.framework.Environment)
	if err != nil {
		return PhaseResult{}, fmt.Errorf("phases: error-detect run build: %w", err)
	}

	buildErrs := verify.ParseBuildErrors(run.Stdout + "\n" + run.Stderr)
	for _, be := range buildErrs {
		cc.Issues = append(cc.Issues, cycle.Issue{
			ID:      uuid.NewString(),
			Type:    cycle.IssueBuildError,
			Message: be.Message,
			File:    be.File,
			Line:    be.Line,
		})
	}

	if p.troubles != nil {
		active, aerr := p.troubles.Active()
		if aerr != nil {
			return PhaseResult{}, fmt.Errorf("phases: error-detect list active troubles: %w", aerr)
		}
		for _, t := range active {
			if t.Resolved || t.Severity != cycle.SeverityHigh && t.Severity != cycle.SeverityCritical {
				continue
			}
			cc.Issues = append(cc.Issues, cycle.Issue{
				ID:      uuid.NewString(),
				Type:    cycle.IssueOther,
				Message: t.Message,
				File:    t.File,
				Line:    t.Line,
			})
		}
	}

	data := map[string]any{"issues_found": len(cc.Issues), "build_passed": run.Passed()}

	if len(cc.Issues) > 0 {
		return PhaseResult{Success: true, Message: "issues detected", Data: data}, nil
	}

	pending := 0
	if p.queue != nil {
		items, qerr := p.queue.List()
		if qerr != nil {
			return PhaseResult{}, fmt.Errorf("phases: error-detect list queue: %w", qerr)
		}
		for _, it := range items {
			if it.Status == queue.StatusPending || it.Status == queue.StatusScheduled {
				pending++
			}
		}
	}
	data["queued_improvements"] = pending

	if pending == 0 {
		return PhaseResult{Success: true, ShouldStop: true, Message: "no issues or queued improvements", Data: data}, nil
	}
	return PhaseResult{Success: true, Message: "no issues, but improvements queued", Data: data}, nil
}
