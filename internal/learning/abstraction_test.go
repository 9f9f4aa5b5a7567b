package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycleforge/agent/internal/cycle"
)

func trouble(id, category, msg string) cycle.Trouble {
	return cycle.Trouble{
		ID:         id,
		Category:   cycle.TroubleCategory(category),
		Message:    msg,
		OccurredAt: time.Now(),
	}
}

func TestEngine_Analyze_GroupsSimilarTroubles(t *testing.T) {
	e := NewEngine(nil)
	troubles := []cycle.Trouble{
		trouble("t1", "build-error", "undefined symbol foo in package bar"),
		trouble("t2", "build-error", "undefined symbol baz in package bar"),
	}

	patterns, suggestions := e.Analyze(troubles, nil)
	require.Len(t, patterns, 1)
	assert.Equal(t, 2, patterns[0].OccurrenceCount)
	assert.NotEmpty(t, patterns[0].PreventionSuggestions)
	require.NotEmpty(t, suggestions)
	assert.True(t, suggestions[0].Automated)
	assert.Greater(t, suggestions[0].BoostedPriority(), 0)
}

func TestEngine_Analyze_UngroupableTroubleIgnored(t *testing.T) {
	e := NewEngine(nil)
	troubles := []cycle.Trouble{
		trouble("t1", "build-error", "completely unique one-off message xyz"),
	}
	patterns, suggestions := e.Analyze(troubles, nil)
	assert.Empty(t, patterns)
	assert.Empty(t, suggestions)
}

type stubAI struct{ calls int }

func (s *stubAI) SuggestPreventions(category string, keywords []string, n int) ([]string, error) {
	s.calls++
	return []string{"extra suggestion"}, nil
}

func TestEngine_Analyze_ConsultsAIForLowConfidence(t *testing.T) {
	ai := &stubAI{}
	e := NewEngine(ai)
	troubles := []cycle.Trouble{
		trouble("t1", "build-error", "undefined symbol foo in package bar"),
		trouble("t2", "build-error", "undefined symbol baz in package bar"),
	}
	patterns, suggestions := e.Analyze(troubles, nil)
	require.Len(t, patterns, 1)
	assert.Equal(t, 1, ai.calls)
	assert.Contains(t, patterns[0].PreventionSuggestions, "extra suggestion")

	var aiSuggestion *Suggestion
	for i := range suggestions {
		if !suggestions[i].Automated {
			aiSuggestion = &suggestions[i]
		}
	}
	require.NotNil(t, aiSuggestion)
	assert.Equal(t, "extra suggestion", aiSuggestion.Text)
}
