package phases

import (
	"context"
	"fmt"

	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/search"
)

// Search is Phase 4 (spec.md §4.K "Retrieves context for the chosen
// target (file reads, related symbols, prior cycle logs). Writes to
// ctx.searchResults").
type Search struct {
	retriever *search.Retriever
}

// NewSearch creates Phase 4.
func NewSearch(retriever *search.Retriever) *Search {
	return &Search{retriever: retriever}
}

func (p *Search) Name() cycle.FailedPhaseName { return cycle.PhaseSearch }

func (p *Search) Execute(ctx context.Context, cc *cycle.Context) (PhaseResult, error) {
	t, ok := selectTarget(cc)
	if !ok || t.file() == "" {
		return PhaseResult{Success: true, Message: "no file-scoped target available for search"}, nil
	}

	results, err := p.retriever.Search(ctx, t.file())
	if err != nil {
		return PhaseResult{}, fmt.Errorf("phases: search target %q: %w", t.file(), err)
	}
	cc.SearchResults = results

	return PhaseResult{
		Success: true,
		Message: fmt.Sprintf("retrieved context for %s", t.file()),
		Data:    map[string]any{"related_symbols": len(results.RelatedSymbols), "files_read": len(results.FileContents)},
	}, nil
}
