package phases

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cycleforge/agent/internal/aiprovider"
	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/safety"
)

// Implement is Phase 6 (spec.md §4.K "Executes plan steps: may invoke an
// AI provider to generate file contents; each generated artifact is
// passed through a code sanitizer/validator... Writes via SafeWrite...
// Appends Change entries").
type Implement struct {
	workspaceRoot string
	guard         *safety.Guard
	ai            ChatClient
	maxAttempts   int
}

// NewImplement creates Phase 6. maxAttempts bounds the generate-validate
// retry loop per file (spec.md "retries up to a small cap").
func NewImplement(workspaceRoot string, guard *safety.Guard, ai ChatClient, maxAttempts int) *Implement {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Implement{workspaceRoot: workspaceRoot, guard: guard, ai: ai, maxAttempts: maxAttempts}
}

func (p *Implement) Name() cycle.FailedPhaseName { return cycle.PhaseImplement }

func (p *Implement) Execute(ctx context.Context, cc *cycle.Context) (PhaseResult, error) {
	if cc.Plan == nil || len(cc.Plan.AffectedFiles) == 0 {
		return PhaseResult{Success: false, Message: "no plan to implement"}, nil
	}

	for _, file := range cc.Plan.AffectedFiles {
		content := p.generate(ctx, file, cc.Plan)
		ch := cycle.Change{
			File:         file,
			ChangeType:   p.changeType(file),
			Summary:      cc.Plan.Description,
			RelatedIssue: cc.Plan.TargetIssueID,
		}
		if err := p.guard.SafeWrite(ch, content); err != nil {
			return PhaseResult{Success: false, Message: fmt.Sprintf("rejected change to %s: %v", file, err)}, nil
		}
		cc.ImplementedChanges = append(cc.ImplementedChanges, ch)
	}

	return PhaseResult{
		Success: true,
		Message: fmt.Sprintf("implemented %d change(s)", len(cc.Plan.AffectedFiles)),
		Data:    map[string]any{"changes": len(cc.Plan.AffectedFiles)},
	}, nil
}

func (p *Implement) changeType(file string) cycle.ChangeType {
	if _, err := os.Stat(filepath.Join(p.workspaceRoot, file)); os.IsNotExist(err) {
		return cycle.ChangeCreate
	}
	return cycle.ChangeModify
}

// generate runs the AI generate -> validate -> retry-with-feedback loop,
// falling back to a safe stub on terminal failure.
func (p *Implement) generate(ctx context.Context, file string, plan *cycle.Plan) string {
	if p.ai == nil {
		return safeStub(plan.Description)
	}

	feedback := ""
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		prompt := buildImplementPrompt(file, plan, feedback)
		resp, err := p.ai.Chat(ctx, aiprovider.Request{Prompt: prompt})
		if err != nil {
			feedback = err.Error()
			continue
		}
		content := extractCode(resp.Content)
		if verr := validateGenerated(content); verr != nil {
			feedback = verr.Error()
			continue
		}
		return content
	}
	return safeStub(plan.Description)
}

func buildImplementPrompt(file string, plan *cycle.Plan, feedback string) string {
	prompt := fmt.Sprintf("Generate the complete contents of %s to: %s. Respond with only the file contents.", file, plan.Description)
	if feedback != "" {
		prompt += fmt.Sprintf("\nThe previous attempt was rejected: %s. Correct it and try again.", feedback)
	}
	return prompt
}
