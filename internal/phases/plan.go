package phases

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cycleforge/agent/internal/aiprovider"
	"github.com/cycleforge/agent/internal/cycle"
)

// Plan is Phase 5 (spec.md §4.K "Chooses exactly one target from
// ctx.issues (preferred) or ctx.improvements. Produces a Plan with ordered
// steps and risk classification. If no valid plan can be formed, returns
// success=false, shouldStop=true").
type Plan struct {
	ai ChatClient
}

// NewPlan creates Phase 5. ai may be nil, in which case every plan gets a
// single deterministic step.
func NewPlan(ai ChatClient) *Plan {
	return &Plan{ai: ai}
}

func (p *Plan) Name() cycle.FailedPhaseName { return cycle.PhasePlan }

func (p *Plan) Execute(ctx context.Context, cc *cycle.Context) (PhaseResult, error) {
	t, ok := selectTarget(cc)
	if !ok {
		return PhaseResult{Success: false, ShouldStop: true, Message: "no issue or improvement to target"}, nil
	}

	plan := &cycle.Plan{
		ID:            uuid.NewString(),
		Description:   fmt.Sprintf("address %s", t.description()),
		Steps:         p.buildSteps(ctx, t),
		AffectedFiles: affectedFiles(t),
		Risk:          classifyRisk(t),
	}
	if t.issue != nil {
		plan.TargetIssueID = t.issue.ID
	} else {
		plan.TargetImprovementID = t.improvement.ID
	}
	cc.Plan = plan

	return PhaseResult{
		Success: true,
		Message: fmt.Sprintf("planned %q (risk=%s)", plan.Description, plan.Risk),
		Data:    map[string]any{"plan_id": plan.ID, "risk": string(plan.Risk), "step_count": len(plan.Steps)},
	}, nil
}

func (p *Plan) buildSteps(ctx context.Context, t target) []cycle.PlanStep {
	if p.ai != nil {
		prompt := fmt.Sprintf("List 2-4 short ordered steps to fix: %s (file: %s). One step per line, no numbering.", t.description(), t.file())
		if resp, err := p.ai.Chat(ctx, aiprovider.Request{Prompt: prompt}); err == nil {
			if steps := parsePlanSteps(resp.Content); len(steps) > 0 {
				return steps
			}
		}
	}
	return []cycle.PlanStep{{Description: "apply a targeted fix for: " + t.description(), Action: "modify"}}
}

func parsePlanSteps(content string) []cycle.PlanStep {
	var steps []cycle.PlanStep
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line == "" {
			continue
		}
		steps = append(steps, cycle.PlanStep{Description: line, Action: "modify"})
	}
	return steps
}

func classifyRisk(t target) cycle.Risk {
	if t.issue != nil {
		switch t.issue.Type {
		case cycle.IssueSecurityIssue, cycle.IssueRuntimeError:
			return cycle.RiskHigh
		case cycle.IssueBuildError, cycle.IssueTestFailure:
			return cycle.RiskMedium
		default:
			return cycle.RiskLow
		}
	}
	if t.improvement != nil && t.improvement.Priority == cycle.PriorityHigh {
		return cycle.RiskMedium
	}
	return cycle.RiskLow
}

func affectedFiles(t target) []string {
	if f := t.file(); f != "" {
		return []string{f}
	}
	return nil
}
