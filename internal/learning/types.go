// Package learning implements the learning subsystem: PatternRepository,
// RuleEngine, PatternExtractor (spec.md §4.C/§4.I) and AbstractionEngine
// (spec.md §4.J). Grounded on the teacher's ErrorPatternDatabase in
// failure_analysis.go (a keyword/category-indexed pattern table consulted
// before calling the AI provider) generalized into a persisted, learned
// pattern store instead of a hardcoded one.
package learning

import "time"

// ConditionType enumerates the kinds of matchers a pattern condition can
// use (spec.md §3 LearnedPattern.conditions).
type ConditionType string

const (
	ConditionFileGlob  ConditionType = "file-glob"
	ConditionRegex     ConditionType = "regex"
	ConditionErrorCode ConditionType = "error-code"
)

// Condition is one clause of a LearnedPattern; a pattern matches a
// candidate file only if every condition is satisfied (spec.md §4.I).
type Condition struct {
	Type   ConditionType `json:"type"`
	Value  string        `json:"value"`
	Target string        `json:"target,omitempty"`
}

// SolutionType distinguishes a literal code template from one that needs
// an AI call to materialize.
type SolutionType string

const (
	SolutionTemplate SolutionType = "template"
	SolutionAIPrompt SolutionType = "ai-prompt"
)

// Solution is the fix a pattern applies once matched.
type Solution struct {
	Type    SolutionType `json:"type"`
	Content string       `json:"content"`
}

// Phase is the maturity of a learned pattern (spec.md §3 stats.phase).
type Phase string

const (
	PhaseInitial     Phase = "initial"
	PhaseTrial       Phase = "trial"
	PhaseEstablished Phase = "established"
)

// Stats tracks a pattern's usage and success history.
type Stats struct {
	UsageCount   int       `json:"usage_count"`
	SuccessCount int       `json:"success_count"`
	Confidence   float64   `json:"confidence"`
	LastUsed     time.Time `json:"last_used"`
	Phase        Phase     `json:"phase"`
}

// HistoryEntry records one confidence-affecting event for audit.
type HistoryEntry struct {
	At      time.Time `json:"at"`
	Success bool      `json:"success"`
}

// LearnedPattern is a persisted, reusable fix recipe.
type LearnedPattern struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Version    int            `json:"version"`
	Conditions []Condition    `json:"conditions"`
	Solution   Solution       `json:"solution"`
	Stats      Stats          `json:"stats"`
	History    []HistoryEntry `json:"history"`
	CreatedAt  time.Time      `json:"created_at"`
}

// FailurePattern records an attempted-but-failed fix, bucketed by
// similarity so later phases can query "already tried" solutions for a
// recurring trouble (spec.md §4.I "Failure patterns").
type FailurePattern struct {
	ID               string    `json:"id"`
	TroubleCategory  string    `json:"trouble_category"`
	TroubleMessage   string    `json:"trouble_message"`
	TroubleFile      string    `json:"trouble_file"`
	AttemptedFixes   []string  `json:"attempted_fixes"`
	FailureReason    string    `json:"failure_reason"`
	OccurrenceCount  int       `json:"occurrence_count"`
	LastOccurredAt   time.Time `json:"last_occurred_at"`
}

// ExtractionContext is the input PatternExtractor derives a new
// LearnedPattern from (spec.md §4.I "ExtractionContext").
type ExtractionContext struct {
	File     string
	Before   string
	After    string
	Category string
	ErrCode  string
	Success  bool
}

// PatternMatch is what RuleEngine.MatchAll returns for each satisfied
// pattern against a candidate file (spec.md §4.K Phase 3).
type PatternMatch struct {
	PatternID     string  `json:"pattern_id"`
	File          string  `json:"file"`
	Line          int     `json:"line,omitempty"`
	MatchedContent string `json:"matched_content,omitempty"`
	Confidence    float64 `json:"confidence"`
}

// TroublePattern is what AbstractionEngine produces by grouping similar
// troubles (spec.md §4.J).
type TroublePattern struct {
	Name                 string    `json:"name"`
	Category             string    `json:"category"`
	Keywords             []string  `json:"keywords"`
	Regex                string    `json:"regex,omitempty"`
	OccurrenceCount      int       `json:"occurrence_count"`
	Confidence           float64   `json:"confidence"`
	PreventionSuggestions []string `json:"prevention_suggestions"`
	LastOccurredAt       time.Time `json:"last_occurred_at"`
}
