package repair

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cycleforge/agent/internal/aiprovider"
	"github.com/cycleforge/agent/internal/breaker"
	"github.com/cycleforge/agent/internal/cycle"
)

// ChatClient is the narrow AI surface AutoRepairer needs, declared
// locally rather than imported from internal/phases (the same idiom
// internal/verify's repair loop uses for its own ChatClient).
type ChatClient interface {
	Chat(ctx context.Context, req aiprovider.Request) (*aiprovider.Response, error)
}

const breakerSource = "auto_repair"

const repairSystemPrompt = "You are an automated repair assistant. Given a reported error, " +
	"respond with a concrete, concise fix description or patch. Do not ask clarifying questions."

// severityPriority maps an AggregatedError's severity onto the queue's
// three-tier priority, so the breaker-gated worker drains critical
// errors first.
func severityPriority(s cycle.Severity) cycle.Priority {
	switch s {
	case cycle.SeverityCritical, cycle.SeverityHigh:
		return cycle.PriorityHigh
	case cycle.SeverityLow:
		return cycle.PriorityLow
	default:
		return cycle.PriorityMedium
	}
}

// defaultRepairPrompt builds an AI prompt from an error's own details
// when the reporter didn't supply one (spec.md §4.P "runs an AI prompt
// (custom or default from error details)").
func defaultRepairPrompt(ae *AggregatedError) string {
	if custom := strings.TrimSpace(ae.Report.CustomPrompt); custom != "" {
		return custom
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Category: %s\nSeverity: %s\nSource: %s\n", ae.Category, ae.Severity, ae.Report.Source)
	if ae.Report.File != "" {
		fmt.Fprintf(&b, "File: %s\n", ae.Report.File)
	}
	fmt.Fprintf(&b, "Message: %s\n", ae.Report.Message)
	if ae.Report.StackTrace != "" {
		fmt.Fprintf(&b, "Stack trace:\n%s\n", ae.Report.StackTrace)
	}
	b.WriteString("Describe the fix needed to resolve this error.")
	return b.String()
}

// AutoRepairer drains RepairQueue through a CircuitBreaker-gated AI call
// (spec.md §4.P "AutoRepairer pops the next task if CircuitBreaker
// allows"). It is async to the cycle engine: a single worker, invoked
// on its own schedule, not from inside Orchestrator.RunCycle.
type AutoRepairer struct {
	queue   *RepairQueue
	errors  *Aggregator
	breaker *breaker.Registry
	ai      ChatClient
	logger  *logrus.Logger

	mu      sync.Mutex
	enabled bool
	running bool
}

// NewAutoRepairer wires an AutoRepairer. It starts enabled.
func NewAutoRepairer(q *RepairQueue, errs *Aggregator, br *breaker.Registry, ai ChatClient, logger *logrus.Logger) *AutoRepairer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AutoRepairer{queue: q, errors: errs, breaker: br, ai: ai, logger: logger, enabled: true}
}

// SetEnabled toggles whether RunOnce will pop and attempt tasks.
func (r *AutoRepairer) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// IsRunning reports whether a repair attempt is currently in flight.
func (r *AutoRepairer) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Schedule auto-classifies and persists report, then enqueues a repair
// task for it at a priority derived from its severity. Returns the
// resulting AggregatedError.
func (r *AutoRepairer) Schedule(report ErrorReport) (*AggregatedError, error) {
	ae, err := r.errors.Report(report)
	if err != nil {
		return nil, err
	}
	if _, err := r.queue.Schedule(ae.ID, severityPriority(ae.Severity)); err != nil {
		return nil, fmt.Errorf("repair: schedule task: %w", err)
	}
	return ae, nil
}

// RunOnce pops the next eligible task, if any, and attempts to repair
// it. It returns (false, nil) when disabled, when the breaker is open, or
// when nothing was eligible to run, and (true, err) when a task was
// attempted (err carries the repair failure, if any).
func (r *AutoRepairer) RunOnce(ctx context.Context) (bool, error) {
	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		return false, nil
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	if r.breaker.State(breakerSource) == breaker.StateOpen {
		return false, nil
	}

	task, err := r.queue.Next()
	if err != nil {
		return false, fmt.Errorf("repair: next task: %w", err)
	}
	if task == nil {
		return false, nil
	}

	aggErr, err := r.errors.Get(task.ErrorID)
	if err != nil {
		_ = r.queue.Complete(task.ID, false)
		return true, fmt.Errorf("repair: load error %s: %w", task.ErrorID, err)
	}

	var repairErr error
	breakerErr := r.breaker.Execute(breakerSource, func() error {
		repairErr = r.attemptRepair(ctx, aggErr)
		return repairErr
	})

	if breakerErr != nil {
		if repairErr != nil {
			if incErr := r.errors.IncrementAttempts(aggErr.ID); incErr != nil {
				r.logger.WithError(incErr).Warn("repair: increment attempts")
			}
		}
		if compErr := r.queue.Complete(task.ID, false); compErr != nil {
			r.logger.WithError(compErr).Warn("repair: mark task failed")
		}
		return true, fmt.Errorf("repair: %w", breakerErr)
	}

	if err := r.errors.MarkResolved(aggErr.ID); err != nil {
		r.logger.WithError(err).Warn("repair: mark resolved")
	}
	if err := r.queue.Complete(task.ID, true); err != nil {
		r.logger.WithError(err).Warn("repair: complete task")
	}
	r.logger.WithField("error_id", aggErr.ID).Info("repair: resolved")
	return true, nil
}

func (r *AutoRepairer) attemptRepair(ctx context.Context, ae *AggregatedError) error {
	if r.ai == nil {
		return fmt.Errorf("repair: no AI client configured")
	}
	resp, err := r.ai.Chat(ctx, aiprovider.Request{
		SystemMsg: repairSystemPrompt,
		Prompt:    defaultRepairPrompt(ae),
	})
	if err != nil {
		return fmt.Errorf("repair: ai call: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return fmt.Errorf("repair: empty ai response")
	}
	return nil
}
