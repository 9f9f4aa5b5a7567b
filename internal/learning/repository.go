package learning

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cycleforge/agent/internal/metrics"
	"github.com/cycleforge/agent/internal/store"
)

// Maturity thresholds for Stats.Phase transitions (spec.md §4.C
// "transition phase via thresholds").
const (
	trialThreshold       = 5
	establishedThreshold = 20
)

type document struct {
	Patterns        []LearnedPattern `json:"patterns"`
	FailurePatterns []FailurePattern `json:"failure_patterns"`
	TotalHits       int              `json:"total_hits"`
	TotalAICalls    int              `json:"total_ai_calls"`
}

// Repository is the persisted PatternRepository (spec.md §4.C).
type Repository struct {
	store   *store.AtomicStore
	metrics *metrics.Metrics
}

// NewRepository creates a Repository backed by the JSON file at path.
func NewRepository(path string, m *metrics.Metrics) *Repository {
	return &Repository{store: store.New(path, nil, nil), metrics: m}
}

// All returns every learned pattern currently persisted, used by the
// RuleEngine as an immutable snapshot at phase entry (spec.md §8 "define a
// unidirectional dataflow: extractor -> repository -> rule-engine;
// rule-engine consumes an immutable snapshot at phase entry").
func (r *Repository) All() ([]LearnedPattern, error) {
	var doc document
	if err := r.store.Load(&doc); err != nil {
		return nil, fmt.Errorf("learning: load: %w", err)
	}
	return doc.Patterns, nil
}

// Add persists a new learned pattern, assigning it an ID and version 1.
func (r *Repository) Add(p LearnedPattern) (*LearnedPattern, error) {
	var doc document
	if err := r.store.Load(&doc); err != nil {
		return nil, fmt.Errorf("learning: load: %w", err)
	}
	p.ID = uuid.NewString()
	p.Version = 1
	p.CreatedAt = time.Now()
	if p.Stats.Phase == "" {
		p.Stats.Phase = PhaseInitial
	}
	doc.Patterns = append(doc.Patterns, p)
	if err := r.store.Save(&doc); err != nil {
		return nil, fmt.Errorf("learning: save: %w", err)
	}
	return &p, nil
}

// UpdateConfidence increments usage (always) and success (on
// success=true), recomputes confidence, transitions phase, and updates
// lastUsed (spec.md §4.C).
func (r *Repository) UpdateConfidence(id string, success bool) error {
	var doc document
	if err := r.store.Load(&doc); err != nil {
		return fmt.Errorf("learning: load: %w", err)
	}

	for i := range doc.Patterns {
		p := &doc.Patterns[i]
		if p.ID != id {
			continue
		}
		p.Stats.UsageCount++
		if success {
			p.Stats.SuccessCount++
		}
		p.Stats.Confidence = float64(p.Stats.SuccessCount) / float64(p.Stats.UsageCount)
		p.Stats.LastUsed = time.Now()
		p.Stats.Phase = phaseFor(p.Stats)
		p.History = append(p.History, HistoryEntry{At: p.Stats.LastUsed, Success: success})

		if p.Stats.UsageCount >= 10 && p.Stats.Confidence < 0.1 {
			// Nothing is marked or removed here; PruneIneffectivePatterns
			// drops patterns in this state when it runs.
		}

		if err := r.store.Save(&doc); err != nil {
			return fmt.Errorf("learning: save: %w", err)
		}
		if r.metrics != nil {
			r.metrics.SetPatternConfidence(id, p.Stats.Confidence)
		}
		return nil
	}
	return fmt.Errorf("learning: no pattern with id %q", id)
}

func phaseFor(s Stats) Phase {
	switch {
	case s.UsageCount >= establishedThreshold:
		return PhaseEstablished
	case s.UsageCount >= trialThreshold:
		return PhaseTrial
	default:
		return PhaseInitial
	}
}

// RecordCycleCompletion updates the global hit/AI-call counters used to
// report the pattern hit rate (spec.md §4.C).
func (r *Repository) RecordCycleCompletion(patternHits, aiCalls int) error {
	var doc document
	if err := r.store.Load(&doc); err != nil {
		return fmt.Errorf("learning: load: %w", err)
	}
	doc.TotalHits += patternHits
	doc.TotalAICalls += aiCalls
	return r.store.Save(&doc)
}

// HitRate returns hits / (hits + aiCalls), 0 if neither have occurred.
func (r *Repository) HitRate() (float64, error) {
	var doc document
	if err := r.store.Load(&doc); err != nil {
		return 0, fmt.Errorf("learning: load: %w", err)
	}
	total := doc.TotalHits + doc.TotalAICalls
	if total == 0 {
		return 0, nil
	}
	return float64(doc.TotalHits) / float64(total), nil
}

// PruneIneffectivePatterns drops any pattern with usage >= 10 and
// confidence < 0.1 (spec.md §4.C).
func (r *Repository) PruneIneffectivePatterns() (int, error) {
	return r.prune(func(p LearnedPattern) bool {
		return p.Stats.UsageCount >= 10 && p.Stats.Confidence < 0.1
	})
}

// PruneStalePatterns drops patterns unused for 90+ days with usage < 5
// (spec.md §4.C).
func (r *Repository) PruneStalePatterns() (int, error) {
	cutoff := time.Now().AddDate(0, 0, -90)
	return r.prune(func(p LearnedPattern) bool {
		return p.Stats.LastUsed.Before(cutoff) && p.Stats.UsageCount < 5
	})
}

func (r *Repository) prune(drop func(LearnedPattern) bool) (int, error) {
	var doc document
	if err := r.store.Load(&doc); err != nil {
		return 0, fmt.Errorf("learning: load: %w", err)
	}
	kept := doc.Patterns[:0]
	removed := 0
	for _, p := range doc.Patterns {
		if drop(p) {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	doc.Patterns = kept
	if removed == 0 {
		return 0, nil
	}
	if err := r.store.Save(&doc); err != nil {
		return 0, fmt.Errorf("learning: save: %w", err)
	}
	return removed, nil
}

// RecordFailure persists or merges a FailurePattern bucket for a failed
// fix attempt (spec.md §4.I "Failure patterns").
func (r *Repository) RecordFailure(fp FailurePattern) error {
	var doc document
	if err := r.store.Load(&doc); err != nil {
		return fmt.Errorf("learning: load: %w", err)
	}

	for i := range doc.FailurePatterns {
		existing := &doc.FailurePatterns[i]
		if existing.TroubleCategory == fp.TroubleCategory && similarity(existing.TroubleMessage, fp.TroubleMessage) > 0.7 {
			existing.AttemptedFixes = append(existing.AttemptedFixes, fp.AttemptedFixes...)
			existing.OccurrenceCount++
			existing.LastOccurredAt = time.Now()
			existing.FailureReason = fp.FailureReason
			return r.store.Save(&doc)
		}
	}

	fp.ID = uuid.NewString()
	fp.OccurrenceCount = 1
	fp.LastOccurredAt = time.Now()
	doc.FailurePatterns = append(doc.FailurePatterns, fp)
	return r.store.Save(&doc)
}

// FailuresFor returns failure-pattern buckets matching category whose
// message is similar to message, so a phase can check "already tried"
// fixes before generating a new one.
func (r *Repository) FailuresFor(category, message string) ([]FailurePattern, error) {
	var doc document
	if err := r.store.Load(&doc); err != nil {
		return nil, fmt.Errorf("learning: load: %w", err)
	}
	var matches []FailurePattern
	for _, fp := range doc.FailurePatterns {
		if fp.TroubleCategory == category && similarity(fp.TroubleMessage, message) > 0.7 {
			matches = append(matches, fp)
		}
	}
	return matches, nil
}
