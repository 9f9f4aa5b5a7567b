// Package repair implements the asynchronous counterpart to the cycle
// engine (spec.md §4.P): an ErrorAggregator that externally-reported
// errors flow into, a RepairQueue that schedules at most one in-flight
// repair at a time, and an AutoRepairer that drains it through the same
// AI-prompt-then-verify idiom the cycle's Verifier uses for mechanical
// failures, gated by a CircuitBreaker. Grounded on the teacher's
// FailureAnalysisEngine (failure_analysis.go preClassifyFailure): a
// keyword table that auto-classifies an incoming failure before any AI
// call is made, generalized here from GitHub Actions log lines to an
// arbitrary externally-reported error message.
package repair

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cycleforge/agent/internal/cycle"
	"github.com/cycleforge/agent/internal/store"
)

// ErrorReport is what an external caller (an HTTP handler, a webhook, a
// monitoring integration) submits to ErrorAggregator.Report (spec.md §4.P
// "ErrorAggregator.Report(ErrorReport)").
type ErrorReport struct {
	Message      string              `json:"message"`
	Source       string              `json:"source"`
	File         string              `json:"file,omitempty"`
	StackTrace   string              `json:"stack_trace,omitempty"`
	Category     cycle.TroubleCategory `json:"category,omitempty"`
	Severity     cycle.Severity      `json:"severity,omitempty"`
	CustomPrompt string              `json:"custom_prompt,omitempty"`
}

// AggregatedError is the persisted, classified form of a reported error
// (spec.md §4.P "auto-classification... when not supplied").
type AggregatedError struct {
	ID         string          `json:"id"`
	Report     ErrorReport     `json:"report"`
	Category   cycle.TroubleCategory `json:"category"`
	Severity   cycle.Severity  `json:"severity"`
	Resolved   bool            `json:"resolved"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	Attempts   int             `json:"attempts"`
}

type errorDocument struct {
	Errors []AggregatedError `json:"errors"`
}

// classifyRule is one entry of the keyword -> (category, severity) table
// consulted before falling back to a generic classification, mirroring
// the teacher's pattern-length-ordered keyword match.
type classifyRule struct {
	keyword  string
	category cycle.TroubleCategory
	severity cycle.Severity
}

// classifyRules is intentionally ordered most-specific first; classify
// returns on the first match, same as the teacher's preClassifyFailure.
var classifyRules = []classifyRule{
	{"panic:", cycle.CategoryRuntimeError, cycle.SeverityCritical},
	{"nil pointer", cycle.CategoryRuntimeError, cycle.SeverityHigh},
	{"index out of range", cycle.CategoryRuntimeError, cycle.SeverityHigh},
	{"cannot find package", cycle.CategoryDependencyError, cycle.SeverityHigh},
	{"no required module provides", cycle.CategoryDependencyError, cycle.SeverityHigh},
	{"undefined:", cycle.CategoryBuildError, cycle.SeverityHigh},
	{"syntax error", cycle.CategoryBuildError, cycle.SeverityHigh},
	{"already declared", cycle.CategoryNamingConflict, cycle.SeverityMedium},
	{"cannot use", cycle.CategoryTypeError, cycle.SeverityMedium},
	{"type mismatch", cycle.CategoryTypeError, cycle.SeverityMedium},
	{"no such file or directory", cycle.CategoryConfigError, cycle.SeverityMedium},
	{"permission denied", cycle.CategoryConfigError, cycle.SeverityMedium},
	{"vulnerable", cycle.CategorySecurityIssue, cycle.SeverityCritical},
	{"cve-", cycle.CategorySecurityIssue, cycle.SeverityCritical},
	{"timed out", cycle.CategoryPerformanceIssue, cycle.SeverityMedium},
	{"timeout", cycle.CategoryPerformanceIssue, cycle.SeverityMedium},
	{"--- fail", cycle.CategoryTestFailure, cycle.SeverityMedium},
	{"assertion", cycle.CategoryTestFailure, cycle.SeverityMedium},
	{"lint", cycle.CategoryLintError, cycle.SeverityLow},
}

// classify returns the best keyword match for message, falling back to
// CategoryOther/SeverityMedium when nothing matches (spec.md §4.P
// "auto-classification... when not supplied").
func classify(message string) (cycle.TroubleCategory, cycle.Severity) {
	lower := strings.ToLower(message)
	for _, rule := range classifyRules {
		if strings.Contains(lower, rule.keyword) {
			return rule.category, rule.severity
		}
	}
	return cycle.CategoryOther, cycle.SeverityMedium
}

// Aggregator is the persisted ErrorAggregator.
type Aggregator struct {
	store *store.AtomicStore
}

// NewAggregator creates an Aggregator backed by the JSON file at path.
func NewAggregator(path string) *Aggregator {
	return &Aggregator{store: store.New(path, nil, nil)}
}

// Report persists r, auto-classifying any category/severity the caller
// left blank, and returns the resulting AggregatedError.
func (a *Aggregator) Report(r ErrorReport) (*AggregatedError, error) {
	var doc errorDocument
	if err := a.store.Load(&doc); err != nil {
		return nil, fmt.Errorf("repair: load errors: %w", err)
	}

	category, severity := r.Category, r.Severity
	if category == "" || severity == "" {
		autoCategory, autoSeverity := classify(r.Message)
		if category == "" {
			category = autoCategory
		}
		if severity == "" {
			severity = autoSeverity
		}
	}

	ae := AggregatedError{
		ID:        uuid.NewString(),
		Report:    r,
		Category:  category,
		Severity:  severity,
		CreatedAt: time.Now(),
	}
	doc.Errors = append(doc.Errors, ae)
	if err := a.store.Save(&doc); err != nil {
		return nil, fmt.Errorf("repair: save errors: %w", err)
	}
	return &ae, nil
}

// Get returns the AggregatedError with id.
func (a *Aggregator) Get(id string) (*AggregatedError, error) {
	var doc errorDocument
	if err := a.store.Load(&doc); err != nil {
		return nil, fmt.Errorf("repair: load errors: %w", err)
	}
	for i := range doc.Errors {
		if doc.Errors[i].ID == id {
			return &doc.Errors[i], nil
		}
	}
	return nil, fmt.Errorf("repair: no error with id %q", id)
}

// List returns every reported error, resolved and unresolved alike, for
// the HTTP listing surface (spec.md §4.P "exposed... for listing").
func (a *Aggregator) List() ([]AggregatedError, error) {
	var doc errorDocument
	if err := a.store.Load(&doc); err != nil {
		return nil, fmt.Errorf("repair: load errors: %w", err)
	}
	return doc.Errors, nil
}

// MarkResolved flags the error as resolved (spec.md §4.P "on success marks
// error resolved").
func (a *Aggregator) MarkResolved(id string) error {
	var doc errorDocument
	if err := a.store.Load(&doc); err != nil {
		return fmt.Errorf("repair: load errors: %w", err)
	}
	now := time.Now()
	for i := range doc.Errors {
		if doc.Errors[i].ID == id {
			doc.Errors[i].Resolved = true
			doc.Errors[i].ResolvedAt = &now
			return a.store.Save(&doc)
		}
	}
	return fmt.Errorf("repair: no error with id %q", id)
}

// IncrementAttempts records one more failed repair attempt against id
// (spec.md §4.P "on failure increments counters").
func (a *Aggregator) IncrementAttempts(id string) error {
	var doc errorDocument
	if err := a.store.Load(&doc); err != nil {
		return fmt.Errorf("repair: load errors: %w", err)
	}
	for i := range doc.Errors {
		if doc.Errors[i].ID == id {
			doc.Errors[i].Attempts++
			return a.store.Save(&doc)
		}
	}
	return fmt.Errorf("repair: no error with id %q", id)
}
