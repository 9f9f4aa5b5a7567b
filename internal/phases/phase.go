// Package phases implements the eight pipeline stages (spec.md §4.K): pure
// readers of the workspace and cooperative writers of the CycleContext, run
// in a fixed order by the Orchestrator.
package phases

import (
	"context"

	"github.com/cycleforge/agent/internal/aiprovider"
	"github.com/cycleforge/agent/internal/cycle"
)

// PhaseResult is every phase's uniform return shape (spec.md §4.K "all
// phases implement Execute(ctx) -> PhaseResult{success, shouldStop,
// message, data?}").
type PhaseResult struct {
	Success    bool
	ShouldStop bool
	Message    string
	Data       map[string]any
}

// Phase is the contract every pipeline stage satisfies.
type Phase interface {
	Name() cycle.FailedPhaseName
	Execute(ctx context.Context, cc *cycle.Context) (PhaseResult, error)
}

// ChatClient is the narrow AI surface phases that call out for generation
// or analysis need, satisfied by *aiprovider.LLMClient.
type ChatClient interface {
	Chat(ctx context.Context, req aiprovider.Request) (*aiprovider.Response, error)
}
