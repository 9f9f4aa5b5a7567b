package learning

import (
	"fmt"
	"regexp"

	"github.com/cycleforge/agent/internal/cycle"
)

// preventionRules is the category -> prevention-suggestion rule table
// from spec.md §4.J.
var preventionRules = map[cycle.TroubleCategory][]string{
	cycle.CategoryBuildError:      {"add a pre-commit build hook"},
	cycle.CategoryTestFailure:     {"enforce a coverage threshold", "add a pre-commit test hook"},
	cycle.CategoryNamingConflict:  {"adopt a module-prefix naming convention", "add a naming lint rule"},
	cycle.CategoryTypeError:       {"enable strict type-checking mode"},
	cycle.CategoryLintError:       {"wire lint-staged into the commit hook"},
	cycle.CategoryDependencyError: {"schedule a periodic dependency audit"},
}

// AIProvider is the minimal surface AbstractionEngine needs to request
// additional prevention suggestions for low-confidence patterns (spec.md
// §4.J "For patterns with confidence < 0.7, consult the AI provider for
// up to 3 additional suggestions").
type AIProvider interface {
	SuggestPreventions(category string, keywords []string, n int) ([]string, error)
}

// Engine groups troubles into TroublePatterns and generates prevention
// suggestions. Analyze reports newly-generated suggestions as Suggestions
// so the orchestrator can forward them into the Improvement Queue (spec.md
// §4.J, §4.M step 6).
type Engine struct {
	ai AIProvider
}

// Suggestion is a single prevention suggestion generated for a
// TroublePattern during one Analyze call, carrying the inputs
// runAbstractionPass needs for the queue priority-boost formula (spec.md
// §4.D).
type Suggestion struct {
	PatternName      string
	Category         string
	Text             string
	OccurrenceCount  int
	PatternConfidence float64
	// Automated is true for suggestions drawn from the fixed rule table
	// (preventionRules), false for ones the AI provider proposed.
	Automated            bool
	SuggestionConfidence float64
}

// ruleSuggestionConfidence and aiSuggestionConfidence seed the
// priority-boost formula's suggestion-confidence term: rule-table
// suggestions are deterministic and trusted more than an AI guess.
const (
	ruleSuggestionConfidence = 0.9
	aiSuggestionConfidence   = 0.5
)

// NewEngine creates an AbstractionEngine. ai may be nil, in which case
// low-confidence patterns simply get the rule-table suggestions.
func NewEngine(ai AIProvider) *Engine {
	return &Engine{ai: ai}
}

// Analyze groups troubles by category and message-token Jaccard > 0.5,
// matching each trouble against existing patterns (regex hit weight 0.7,
// keyword-overlap weight 0.3; joins if combined score > 0.5 or the keyword
// Jaccard alone is > 0.5) or creating a new TroublePattern, and
// (re)generates prevention suggestions.
func (e *Engine) Analyze(troubles []cycle.Trouble, existing []TroublePattern) ([]TroublePattern, []Suggestion) {
	patterns := append([]TroublePattern(nil), existing...)

	for _, t := range troubles {
		best := -1
		bestScore := 0.0
		for i := range patterns {
			if patterns[i].Category != string(t.Category) {
				continue
			}
			score := matchScore(patterns[i], t.Message)
			if score > bestScore {
				best, bestScore = i, score
			}
		}

		if best != -1 && (bestScore > 0.5 || jaccard(keywordSet(patterns[best].Keywords), tokenize(t.Message)) > 0.5) {
			patterns[best].OccurrenceCount++
			patterns[best].LastOccurredAt = t.OccurredAt
			patterns[best].Keywords = mergeKeywords(patterns[best].Keywords, tokenize(t.Message))
			patterns[best].Confidence = confidenceFor(patterns[best].OccurrenceCount)
		} else if groupable(t, troubles) {
			patterns = append(patterns, TroublePattern{
				Name:            fmt.Sprintf("%s-pattern", t.Category),
				Category:        string(t.Category),
				Keywords:        keys(tokenize(t.Message)),
				OccurrenceCount: 1,
				Confidence:      confidenceFor(1),
				LastOccurredAt:  t.OccurredAt,
			})
		}
	}

	var fresh []Suggestion
	for i := range patterns {
		texts, suggestions := e.preventionsFor(patterns[i])
		patterns[i].PreventionSuggestions = texts
		fresh = append(fresh, suggestions...)
	}
	return patterns, fresh
}

func matchScore(p TroublePattern, message string) float64 {
	score := 0.0
	if p.Regex != "" {
		if re, err := regexp.Compile(p.Regex); err == nil && re.MatchString(message) {
			score += 0.7
		}
	}
	overlap := jaccard(keywordSet(p.Keywords), tokenize(message))
	score += 0.3 * overlap
	return score
}

func groupable(t cycle.Trouble, all []cycle.Trouble) bool {
	for _, other := range all {
		if other.ID == t.ID || other.Category != t.Category {
			continue
		}
		if jaccard(tokenize(t.Message), tokenize(other.Message)) > 0.5 {
			return true
		}
	}
	return false
}

func confidenceFor(occurrences int) float64 {
	c := float64(occurrences) / 10
	if c > 1 {
		c = 1
	}
	return c
}

func (e *Engine) preventionsFor(p TroublePattern) ([]string, []Suggestion) {
	rules := preventionRules[cycle.TroubleCategory(p.Category)]
	texts := append([]string(nil), rules...)
	out := make([]Suggestion, 0, len(rules))
	for _, text := range rules {
		out = append(out, Suggestion{
			PatternName:          p.Name,
			Category:             p.Category,
			Text:                 text,
			OccurrenceCount:      p.OccurrenceCount,
			PatternConfidence:    p.Confidence,
			Automated:            true,
			SuggestionConfidence: ruleSuggestionConfidence,
		})
	}

	if p.Confidence < 0.7 && e.ai != nil {
		extra, err := e.ai.SuggestPreventions(p.Category, p.Keywords, 3)
		if err == nil {
			texts = append(texts, extra...)
			for _, text := range extra {
				out = append(out, Suggestion{
					PatternName:          p.Name,
					Category:             p.Category,
					Text:                 text,
					OccurrenceCount:      p.OccurrenceCount,
					PatternConfidence:    p.Confidence,
					Automated:            false,
					SuggestionConfidence: aiSuggestionConfidence,
				})
			}
		}
	}
	return texts, out
}

// BoostedPriority computes the numeric Improvement Queue priority for a
// Suggestion (spec.md §4.D: "priority boosted by pattern occurrence count
// + pattern confidence + automated flag + suggestion confidence, clamped
// to [0,100]"). Pattern confidence and suggestion confidence each
// contribute up to 40 and 15 points; occurrence count contributes up to
// 30 (capped at 10 occurrences); an automated (rule-table) suggestion adds
// a flat 15 and an AI-proposed one a flat 5.
func (s Suggestion) BoostedPriority() int {
	occurrences := s.OccurrenceCount
	if occurrences > 10 {
		occurrences = 10
	}
	score := s.PatternConfidence*40 + float64(occurrences)*3 + s.SuggestionConfidence*15
	if s.Automated {
		score += 15
	} else {
		score += 5
	}
	p := int(score)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func mergeKeywords(existing []string, fresh map[string]struct{}) []string {
	set := keywordSet(existing)
	for w := range fresh {
		set[w] = struct{}{}
	}
	return keys(set)
}

func keywordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	return out
}
