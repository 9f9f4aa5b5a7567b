package aiprovider

import "fmt"

func parseOpenAIResponse(provider Provider, model string, resp map[string]any) (*Response, error) {
	choices, ok := resp["choices"].([]any)
	if !ok || len(choices) == 0 {
		return nil, fmt.Errorf("aiprovider: no choices in response")
	}
	choice, _ := choices[0].(map[string]any)
	message, _ := choice["message"].(map[string]any)
	content, _ := message["content"].(string)
	finish, _ := choice["finish_reason"].(string)

	out := &Response{
		Content:      content,
		Provider:     string(provider),
		Model:        model,
		FinishReason: finish,
	}
	if usage, ok := resp["usage"].(map[string]any); ok {
		out.Usage = &Usage{
			PromptTokens:     intField(usage, "prompt_tokens"),
			CompletionTokens: intField(usage, "completion_tokens"),
			TotalTokens:      intField(usage, "total_tokens"),
		}
	}
	return out, nil
}

func parseAnthropicResponse(model string, resp map[string]any) (*Response, error) {
	content, ok := resp["content"].([]any)
	if !ok || len(content) == 0 {
		return nil, fmt.Errorf("aiprovider: no content in response")
	}
	first, _ := content[0].(map[string]any)
	text, _ := first["text"].(string)
	finish, _ := resp["stop_reason"].(string)

	out := &Response{
		Content:      text,
		Provider:     string(Anthropic),
		Model:        model,
		FinishReason: finish,
	}
	if usage, ok := resp["usage"].(map[string]any); ok {
		out.Usage = &Usage{
			PromptTokens:     intField(usage, "input_tokens"),
			CompletionTokens: intField(usage, "output_tokens"),
		}
		out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
	}
	return out, nil
}

func parseGeminiResponse(model string, resp map[string]any) (*Response, error) {
	candidates, ok := resp["candidates"].([]any)
	if !ok || len(candidates) == 0 {
		return nil, fmt.Errorf("aiprovider: no candidates in response")
	}
	candidate, _ := candidates[0].(map[string]any)
	content, _ := candidate["content"].(map[string]any)
	parts, _ := content["parts"].([]any)
	if len(parts) == 0 {
		return nil, fmt.Errorf("aiprovider: no parts in candidate")
	}
	part, _ := parts[0].(map[string]any)
	text, _ := part["text"].(string)
	finish, _ := candidate["finishReason"].(string)

	return &Response{
		Content:      text,
		Provider:     string(Gemini),
		Model:        model,
		FinishReason: finish,
	}, nil
}

func intField(m map[string]any, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}
