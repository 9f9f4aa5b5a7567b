package learning

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// RuleEngine compiles a pattern's conditions into a matcher and evaluates
// them against candidate files (spec.md §4.I). It consumes an immutable
// snapshot of patterns taken at phase entry, per spec.md §8's
// extractor -> repository -> rule-engine unidirectional dataflow.
type RuleEngine struct {
	patterns []LearnedPattern
}

// NewRuleEngine snapshots patterns for one phase's matching pass.
func NewRuleEngine(patterns []LearnedPattern) *RuleEngine {
	return &RuleEngine{patterns: patterns}
}

// MatchAll evaluates every pattern against every file's content, returning
// a PatternMatch for each pattern all of whose conditions are satisfied
// (spec.md §4.K Phase 3 "Pattern matching").
func (e *RuleEngine) MatchAll(files map[string]string, errorCodes map[string]string) []PatternMatch {
	var matches []PatternMatch
	for _, p := range e.patterns {
		for file, content := range files {
			if matchesAllConditions(p.Conditions, file, content, errorCodes[file]) {
				matches = append(matches, PatternMatch{
					PatternID:  p.ID,
					File:       file,
					Confidence: p.Stats.Confidence,
				})
			}
		}
	}
	return matches
}

func matchesAllConditions(conditions []Condition, file, content, errCode string) bool {
	if len(conditions) == 0 {
		return false
	}
	for _, c := range conditions {
		if !matchesCondition(c, file, content, errCode) {
			return false
		}
	}
	return true
}

func matchesCondition(c Condition, file, content, errCode string) bool {
	switch c.Type {
	case ConditionFileGlob:
		ok, err := doublestar.Match(c.Value, filepath.ToSlash(file))
		return err == nil && ok
	case ConditionRegex:
		re, err := regexp.Compile(c.Value)
		if err != nil {
			return false
		}
		return re.MatchString(content)
	case ConditionErrorCode:
		return errCode != "" && strings.EqualFold(errCode, c.Value)
	default:
		return false
	}
}
