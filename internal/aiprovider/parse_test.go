package aiprovider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOpenAIResponse(t *testing.T) {
	resp := map[string]any{
		"choices": []any{
			map[string]any{
				"message":       map[string]any{"content": "hello"},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     float64(10),
			"completion_tokens": float64(5),
			"total_tokens":      float64(15),
		},
	}

	out, err := parseOpenAIResponse(OpenAI, "gpt-4o", resp)
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Content)
	assert.Equal(t, 15, out.Usage.TotalTokens)
}

func TestParseOpenAIResponse_NoChoicesErrors(t *testing.T) {
	_, err := parseOpenAIResponse(OpenAI, "gpt-4o", map[string]any{"choices": []any{}})
	require.Error(t, err)
}

func TestParseAnthropicResponse(t *testing.T) {
	resp := map[string]any{
		"content":     []any{map[string]any{"text": "hi there"}},
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":  float64(20),
			"output_tokens": float64(8),
		},
	}
	out, err := parseAnthropicResponse("claude-3-5-sonnet-20241022", resp)
	require.NoError(t, err)
	assert.Equal(t, "hi there", out.Content)
	assert.Equal(t, 28, out.Usage.TotalTokens)
}

func TestParseGeminiResponse(t *testing.T) {
	resp := map[string]any{
		"candidates": []any{
			map[string]any{
				"content":      map[string]any{"parts": []any{map[string]any{"text": "gemini says hi"}}},
				"finishReason": "STOP",
			},
		},
	}
	out, err := parseGeminiResponse("gemini-2.0-flash-exp", resp)
	require.NoError(t, err)
	assert.Equal(t, "gemini says hi", out.Content)
}

func TestSplitLines(t *testing.T) {
	lines := splitLines("one\ntwo\nthree\nfour", 2)
	assert.Equal(t, []string{"one", "two"}, lines)
}

func TestBaseURLFor(t *testing.T) {
	assert.Equal(t, "https://api.anthropic.com", baseURLFor(Anthropic))
	assert.Equal(t, "https://api.openai.com", baseURLFor(OpenAI))
}
