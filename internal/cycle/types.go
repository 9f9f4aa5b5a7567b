// Package cycle defines the shared data model that flows through a single
// orchestrator cycle: the CycleContext and the entities phases read and
// append to it (Issue, Improvement, Plan, Change, TestResult, Trouble).
package cycle

import "time"

// IssueType enumerates the kinds of problems Phase 2 (error-detect) and
// Phase 1 (health-check) can append to a CycleContext.
type IssueType string

const (
	IssueBuildError    IssueType = "build-error"
	IssueTestFailure   IssueType = "test-failure"
	IssueRuntimeError  IssueType = "runtime-error"
	IssueLintError     IssueType = "lint-error"
	IssueSecurityIssue IssueType = "security-issue"
	IssueResourceIssue IssueType = "resource-issue"
	IssueOther         IssueType = "other"
)

// Issue is a detected problem needing a fix.
type Issue struct {
	ID       string    `json:"id"`
	Type     IssueType `json:"type"`
	Message  string    `json:"message"`
	File     string    `json:"file,omitempty"`
	Line     int       `json:"line,omitempty"`
	Resolved bool      `json:"resolved"`
}

// Priority is the three-tier priority used by Improvement.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Improvement is an actionable, prioritized work item, whether discovered by
// a phase or dequeued from the ImprovementQueue.
type Improvement struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
	File        string   `json:"file,omitempty"`
	Line        int      `json:"line,omitempty"`
	Source      string   `json:"source"`
}

// Risk is the three-tier risk classification used by Plan.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// PlanStep is one ordered step of a Plan.
type PlanStep struct {
	Description string `json:"description"`
	Action      string `json:"action"`
}

// Plan is the chosen repair strategy for exactly one target (an Issue or an
// Improvement, never both).
type Plan struct {
	ID                 string     `json:"id"`
	Description        string     `json:"description"`
	Steps              []PlanStep `json:"steps"`
	AffectedFiles      []string   `json:"affected_files"`
	Risk               Risk       `json:"risk"`
	TargetIssueID      string     `json:"target_issue_id,omitempty"`
	TargetImprovementID string    `json:"target_improvement_id,omitempty"`
}

// ChangeType enumerates the kind of filesystem mutation a Change records.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
)

// Change records one file mutation made by Phase 6 (implement) or Phase 7
// (test-gen).
type Change struct {
	File          string     `json:"file"`
	ChangeType    ChangeType `json:"change_type"`
	Summary       string     `json:"summary,omitempty"`
	RelatedIssue  string     `json:"related_issue,omitempty"`
}

// TestResult is the outcome of running the project's test command.
type TestResult struct {
	Passed      bool          `json:"passed"`
	TotalTests  int           `json:"total_tests"`
	PassedTests int           `json:"passed_tests"`
	FailedTests int           `json:"failed_tests"`
	Errors      []string      `json:"errors"`
	Duration    time.Duration `json:"duration"`
}

// TroubleCategory enumerates the categories a structured incident can fall
// into; see spec.md §3 Trouble.
type TroubleCategory string

const (
	CategoryBuildError       TroubleCategory = "build-error"
	CategoryTestFailure      TroubleCategory = "test-failure"
	CategoryNamingConflict   TroubleCategory = "naming-conflict"
	CategoryTypeError        TroubleCategory = "type-error"
	CategoryRuntimeError     TroubleCategory = "runtime-error"
	CategoryLintError        TroubleCategory = "lint-error"
	CategoryDependencyError  TroubleCategory = "dependency-error"
	CategoryConfigError      TroubleCategory = "config-error"
	CategorySecurityIssue    TroubleCategory = "security-issue"
	CategoryPerformanceIssue TroubleCategory = "performance-issue"
	CategoryOther            TroubleCategory = "other"
)

// Severity is the four-tier severity used by Trouble.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Trouble is a structured incident captured during a cycle.
type Trouble struct {
	ID          string          `json:"id"`
	CycleID     string          `json:"cycle_id"`
	Phase       string          `json:"phase"`
	Category    TroubleCategory `json:"category"`
	Severity    Severity        `json:"severity"`
	Message     string          `json:"message"`
	File        string          `json:"file,omitempty"`
	Line        int             `json:"line,omitempty"`
	Column      int             `json:"column,omitempty"`
	StackTrace  string          `json:"stack_trace,omitempty"`
	Context     map[string]any  `json:"context,omitempty"`
	Resolved    bool            `json:"resolved"`
	ResolvedBy  string          `json:"resolved_by,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// Signature returns the (message, file, category) tuple used for dedup
// comparisons, per spec.md §4.H and §8 invariant 4.
func (t Trouble) Signature() (message, file string, category TroubleCategory) {
	return t.Message, t.File, t.Category
}

// FailedPhaseName enumerates the eight fixed phase names, used for
// CycleContext.FailedPhase and for phase-scoped event/log fields.
type FailedPhaseName string

const (
	PhaseHealthCheck  FailedPhaseName = "health-check"
	PhaseErrorDetect  FailedPhaseName = "error-detect"
	PhaseImproveFind  FailedPhaseName = "improve-find"
	PhaseSearch       FailedPhaseName = "search"
	PhasePlan         FailedPhaseName = "plan"
	PhaseImplement    FailedPhaseName = "implement"
	PhaseTestGen      FailedPhaseName = "test-gen"
	PhaseVerify       FailedPhaseName = "verify"
)

// OrderedPhases is the fixed pipeline order the Orchestrator runs phases in.
var OrderedPhases = []FailedPhaseName{
	PhaseHealthCheck,
	PhaseErrorDetect,
	PhaseImproveFind,
	PhaseSearch,
	PhasePlan,
	PhaseImplement,
	PhaseTestGen,
	PhaseVerify,
}

// IsCritical reports whether a failure in this phase marks the cycle as
// critically failed (spec.md §4.M step 5 / §4.K "Failure rules").
func (p FailedPhaseName) IsCritical() bool {
	return p == PhaseImplement || p == PhaseVerify
}

// TokenUsage tracks cumulative AI token spend for a cycle.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates u into the receiver.
func (t *TokenUsage) Add(u TokenUsage) {
	t.PromptTokens += u.PromptTokens
	t.CompletionTokens += u.CompletionTokens
	t.TotalTokens += u.TotalTokens
}

// SearchResults holds retrieval output from Phase 4, released at cycle end.
type SearchResults struct {
	Target       string            `json:"target"`
	FileContents map[string]string `json:"file_contents"`
	RelatedSymbols []string        `json:"related_symbols"`
	PriorCycleNotes []string       `json:"prior_cycle_notes"`
}

// Context is the CycleContext: shared mutable state owned exclusively by the
// Orchestrator for the cycle's lifetime and passed by reference to phases,
// which mutate it cooperatively and never concurrently (spec.md §3).
type Context struct {
	CycleID      string
	StartTime    time.Time

	Issues       []Issue
	Improvements []Improvement
	Plan         *Plan
	ImplementedChanges []Change
	TestResults  *TestResult
	Troubles     []Trouble

	ActiveGoals  []string
	GoalProgress map[string]float64

	UsedPatterns    []string
	PatternMatches  int
	AICalls         int
	TokenUsage      TokenUsage

	FailedPhase   FailedPhaseName
	FailureReason string

	SearchResults *SearchResults
}

// New creates a fresh CycleContext for cycleID.
func New(cycleID string, startTime time.Time) *Context {
	return &Context{
		CycleID:      cycleID,
		StartTime:    startTime,
		GoalProgress: make(map[string]float64),
	}
}

// RecordFailure sets FailedPhase/FailureReason exactly once — the first
// phase to report failure wins (spec.md §3 invariant).
func (c *Context) RecordFailure(phase FailedPhaseName, reason string) {
	if c.FailedPhase != "" {
		return
	}
	c.FailedPhase = phase
	c.FailureReason = reason
}

// HasCriticalFailure reports whether the recorded failed phase is one of the
// two that mark a cycle as critically failed.
func (c *Context) HasCriticalFailure() bool {
	return c.FailedPhase != "" && c.FailedPhase.IsCritical()
}

// Release nulls the large fields at cycle end, per spec.md §3's lifecycle
// note ("CycleContext is created at cycle start and discarded (large fields
// nulled) at cycle end").
func (c *Context) Release() {
	c.SearchResults = nil
	c.Issues = nil
	c.Improvements = nil
	c.ImplementedChanges = nil
	c.Troubles = nil
}

// Quality is the cycle outcome tag computed at finalization (spec.md §4.M
// step 7, §3 Result fields).
type Quality string

const (
	QualityFailed    Quality = "failed"
	QualityNoOp      Quality = "no-op"
	QualityPartial   Quality = "partial"
	QualityEffective Quality = "effective"
)

// Classify computes the Quality tag from the cycle's outcome (spec.md §3
// "Quality tag. failed if critical failure; no-op if no changes and no
// troubles and issues > 0; partial if changes but troubles; effective if
// changes and no troubles; no-op otherwise").
func (c *Context) Classify() Quality {
	switch {
	case c.HasCriticalFailure():
		return QualityFailed
	case len(c.ImplementedChanges) > 0 && len(c.Troubles) > 0:
		return QualityPartial
	case len(c.ImplementedChanges) > 0 && len(c.Troubles) == 0:
		return QualityEffective
	default:
		return QualityNoOp
	}
}

// Result is the Orchestrator's per-cycle outcome summary (spec.md §3
// "Result fields").
type Result struct {
	CycleID      string        `json:"cycle_id"`
	Success      bool          `json:"success"`
	Duration     time.Duration `json:"duration"`
	TroubleCount int           `json:"trouble_count"`
	ShouldRetry  bool          `json:"should_retry"`
	RetryReason  string        `json:"retry_reason,omitempty"`
	FailedPhase  FailedPhaseName `json:"failed_phase,omitempty"`
	SkippedEarly bool          `json:"skipped_early"`
	RolledBack   bool          `json:"rolled_back"`
	Quality      Quality       `json:"quality"`
}
