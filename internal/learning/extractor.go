package learning

import (
	"fmt"
	"path/filepath"
	"strings"
)

// keywordTable is the regex-condition keyword list named in spec.md
// §4.I, grounded on the teacher's ErrorPatternDatabase
// (failure_analysis.go loadErrorPatterns) generalized from a fixed error
// table to a growing, learned one.
var keywordTable = []string{
	"console.log", "unused import", "any type", "todo marker",
	"empty catch", "magic number", "long function",
}

var keywordPatterns = map[string]string{
	"console.log":    `console\.log\(`,
	"unused import":  `^import\s+.*$`,
	"any type":       `:\s*any\b`,
	"todo marker":    `(?i)//\s*todo`,
	"empty catch":    `catch\s*\([^)]*\)\s*\{\s*\}`,
	"magic number":   `\b\d{2,}\b`,
	"long function":  `func\s+\w+\([^)]*\)\s*\{`,
}

// Extractor turns successful fixes into reusable LearnedPatterns and
// records failure buckets for unsuccessful ones (spec.md §4.I
// "PatternExtractor").
type Extractor struct {
	repo *Repository
}

// NewExtractor creates an Extractor that persists through repo.
func NewExtractor(repo *Repository) *Extractor {
	return &Extractor{repo: repo}
}

// Extract derives a new LearnedPattern from a successful fix, merging
// into an existing similar pattern when one is found (spec.md §4.I
// "Merge with an existing similar pattern if condition sets are
// near-identical").
func (x *Extractor) Extract(ec ExtractionContext) (*LearnedPattern, error) {
	if !ec.Success {
		return nil, fmt.Errorf("learning: extract called with a non-successful context")
	}

	conditions := deriveConditions(ec)
	solution := deriveSolution(ec)

	existing, err := x.repo.All()
	if err != nil {
		return nil, err
	}
	if merged := findMergeCandidate(existing, conditions); merged != nil {
		if err := x.repo.UpdateConfidence(merged.ID, true); err != nil {
			return nil, err
		}
		return merged, nil
	}

	name := fmt.Sprintf("pattern-%s-%s", ec.Category, filepath.Ext(ec.File))
	p := LearnedPattern{
		Name:       name,
		Conditions: conditions,
		Solution:   solution,
	}
	return x.repo.Add(p)
}

// RecordFailure stores a failed-fix attempt as a FailurePattern bucket
// (spec.md §4.I "Failure patterns", 0.7-similarity bucketing handled by
// Repository.RecordFailure).
func (x *Extractor) RecordFailure(category, message, file, attemptedFix, reason string) error {
	return x.repo.RecordFailure(FailurePattern{
		TroubleCategory: category,
		TroubleMessage:  message,
		TroubleFile:     file,
		AttemptedFixes:  []string{attemptedFix},
		FailureReason:   reason,
	})
}

func deriveConditions(ec ExtractionContext) []Condition {
	conditions := []Condition{
		{Type: ConditionFileGlob, Value: globFor(ec.File)},
	}
	for _, kw := range keywordTable {
		if strings.Contains(strings.ToLower(ec.Before), kw) {
			conditions = append(conditions, Condition{Type: ConditionRegex, Value: keywordPatterns[kw]})
			break
		}
	}
	if ec.ErrCode != "" {
		conditions = append(conditions, Condition{Type: ConditionErrorCode, Value: ec.ErrCode})
	}
	return conditions
}

// globFor generalizes a concrete file path to a double-star glob scoped
// to its extension and folder class (spec.md §4.I "generalized file glob
// from the file's extension/folder class").
func globFor(file string) string {
	dir := filepath.Dir(filepath.ToSlash(file))
	ext := filepath.Ext(file)
	class := "src"
	if strings.Contains(dir, "test") {
		class = "test"
	}
	return fmt.Sprintf("**/%s/**/*%s", class, ext)
}

func deriveSolution(ec ExtractionContext) Solution {
	if len(ec.Before) <= 500 && len(ec.After) <= 500 {
		return Solution{Type: SolutionTemplate, Content: ec.After}
	}
	return Solution{
		Type:    SolutionAIPrompt,
		Content: fmt.Sprintf("Apply the same class of fix used for %s (category %s) to the matched file.", ec.File, ec.Category),
	}
}

func findMergeCandidate(existing []LearnedPattern, conditions []Condition) *LearnedPattern {
	for i := range existing {
		if conditionSetsSimilar(existing[i].Conditions, conditions) {
			return &existing[i]
		}
	}
	return nil
}

func conditionSetsSimilar(a, b []Condition) bool {
	if len(a) != len(b) {
		return false
	}
	byType := make(map[ConditionType]string, len(a))
	for _, c := range a {
		byType[c.Type] = c.Value
	}
	for _, c := range b {
		v, ok := byType[c.Type]
		if !ok {
			return false
		}
		if similarity(v, c.Value) <= 0.8 && !strings.Contains(v, c.Value) && !strings.Contains(c.Value, v) {
			return false
		}
	}
	return true
}
