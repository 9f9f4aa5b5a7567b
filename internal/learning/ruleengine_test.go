package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuleEngine_MatchAll_AllConditionsMustHold(t *testing.T) {
	patterns := []LearnedPattern{
		{
			ID: "p1",
			Conditions: []Condition{
				{Type: ConditionFileGlob, Value: "**/*.go"},
				{Type: ConditionRegex, Value: `console\.log\(`},
			},
			Stats: Stats{Confidence: 0.9},
		},
	}
	engine := NewRuleEngine(patterns)

	files := map[string]string{
		"internal/foo/bar.go": "fmt.Println(\"hi\")",
		"internal/foo/baz.go": "console.log(\"hi\")",
		"internal/foo/baz.ts": "console.log(\"hi\")",
	}

	matches := engine.MatchAll(files, nil)
	require := assert.New(t)
	require.Len(matches, 1)
	require.Equal("internal/foo/baz.go", matches[0].File)
	require.Equal(0.9, matches[0].Confidence)
}

func TestRuleEngine_ErrorCodeCondition(t *testing.T) {
	patterns := []LearnedPattern{
		{ID: "p1", Conditions: []Condition{{Type: ConditionErrorCode, Value: "TS2345"}}},
	}
	engine := NewRuleEngine(patterns)
	matches := engine.MatchAll(map[string]string{"a.ts": ""}, map[string]string{"a.ts": "TS2345"})
	assert.Len(t, matches, 1)
}

func TestRuleEngine_NoConditionsNeverMatches(t *testing.T) {
	patterns := []LearnedPattern{{ID: "p1"}}
	engine := NewRuleEngine(patterns)
	matches := engine.MatchAll(map[string]string{"a.go": "x"}, nil)
	assert.Empty(t, matches)
}
