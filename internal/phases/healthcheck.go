package phases

import (
	"context"
	"fmt"
	"runtime"

	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/trouble"
)

// resourceUsage is a cheap, in-process snapshot of runtime health. No pack
// repo probes resource usage beyond an HTTP /healthz liveness endpoint
// (rcourtman-Pulse's cmd/pulse-agent exposes one but never samples
// anything itself), so this is stdlib-only: runtime.MemStats and the
// goroutine count are the idiomatic Go substitute for a cheap degradation
// gate without pulling in a full system-metrics library.
type resourceUsage struct {
	HeapAllocBytes uint64
	NumGoroutine   int
}

func sampleResourceUsage() resourceUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return resourceUsage{HeapAllocBytes: m.HeapAlloc, NumGoroutine: runtime.NumGoroutine()}
}

// HealthCheck is Phase 1 (spec.md §4.K "Collects environment signals
// (resource usage, current system phase, issues). On severe degradation
// sets shouldStop=true").
type HealthCheck struct {
	troubles      *trouble.Repository
	maxHeapBytes  uint64
	maxGoroutines int
	systemPhase   string
}

// NewHealthCheck creates Phase 1. A zero maxHeapBytes/maxGoroutines
// disables that particular degradation check. systemPhase is a
// caller-supplied phase label, reported for observability only.
func NewHealthCheck(troubles *trouble.Repository, maxHeapBytes uint64, maxGoroutines int, systemPhase string) *HealthCheck {
	return &HealthCheck{troubles: troubles, maxHeapBytes: maxHeapBytes, maxGoroutines: maxGoroutines, systemPhase: systemPhase}
}

func (p *HealthCheck) Name() cycle.FailedPhaseName { return cycle.PhaseHealthCheck }

func (p *HealthCheck) Execute(ctx context.Context, cc *cycle.Context) (PhaseResult, error) {
	usage := sampleResourceUsage()

	activeCount := 0
	if p.troubles != nil {
		active, err := p.troubles.Active()
		if err != nil {
			return PhaseResult{}, fmt.Errorf("phases: health-check list active troubles: %w", err)
		}
		activeCount = len(active)
	}

	data := map[string]any{
		"heap_alloc_bytes": usage.HeapAllocBytes,
		"goroutines":       usage.NumGoroutine,
		"active_troubles":  activeCount,
		"system_phase":     p.systemPhase,
	}

	degraded := (p.maxHeapBytes > 0 && usage.HeapAllocBytes > p.maxHeapBytes) ||
		(p.maxGoroutines > 0 && usage.NumGoroutine > p.maxGoroutines)
	if degraded {
		return PhaseResult{
			Success:    true,
			ShouldStop: true,
			Message:    "severe resource degradation detected",
			Data:       data,
		}, nil
	}

	return PhaseResult{Success: true, Message: "healthy", Data: data}, nil
}
