// Package aiprovider is the AI collaborator boundary (spec.md §1
// "a configured AI provider... treated as an external collaborator").
// LLMClient is adapted wholesale from the teacher's llm_client.go: same
// multi-provider HTTP dispatch, same dagger.Secret-sourced API key, same
// provider-default tables — generalized to also satisfy the narrower
// AIProvider interface the rest of this repo depends on. Token usage is
// returned on each Response as Usage; the client does not accumulate it
// into a cycle.TokenUsage.
package aiprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dagger.io/dagger"
	"github.com/sirupsen/logrus"
)

// Provider identifies which backend an LLMClient talks to.
type Provider string

const (
	OpenAI    Provider = "openai"
	Anthropic Provider = "anthropic"
	Gemini    Provider = "gemini"
	DeepSeek  Provider = "deepseek"
	LiteLLM   Provider = "litellm"
)

// Config holds per-provider request defaults.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	RetryCount  int
}

// Request is one chat completion request.
type Request struct {
	Prompt    string
	SystemMsg string
	Model     string
}

// Usage is the token accounting returned alongside a completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is one chat completion result.
type Response struct {
	Content      string
	Usage        *Usage
	Model        string
	Provider     string
	FinishReason string
}

// LLMClient is a unified HTTP client across OpenAI, Anthropic, Gemini,
// DeepSeek, and LiteLLM-proxied models.
type LLMClient struct {
	provider   Provider
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
	config     *Config
}

// NewLLMClient creates a client for provider, reading its API key out of
// a Dagger secret so it never touches process environment variables or
// logs (grounded on the teacher's NewLLMClient(ctx, provider, *dagger.Secret)).
func NewLLMClient(ctx context.Context, provider Provider, apiKey *dagger.Secret, logger *logrus.Logger) (*LLMClient, error) {
	keyStr, err := apiKey.Plaintext(ctx)
	if err != nil {
		return nil, fmt.Errorf("aiprovider: read api key: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	config := defaultConfig(provider)
	client := &LLMClient{
		provider: provider,
		apiKey:   keyStr,
		baseURL:  baseURLFor(provider),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
		config: config,
	}
	return client, nil
}

// WithModel overrides the default model.
func (c *LLMClient) WithModel(model string) *LLMClient {
	c.config.Model = model
	return c
}

// Chat dispatches to the provider-specific request builder/parser.
func (c *LLMClient) Chat(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	defer func() {
		c.logger.WithFields(logrus.Fields{
			"provider": c.provider,
			"duration": time.Since(start),
		}).Debug("aiprovider: chat completed")
	}()

	switch c.provider {
	case OpenAI, DeepSeek, LiteLLM:
		return c.chatOpenAICompatible(ctx, req)
	case Anthropic:
		return c.chatAnthropic(ctx, req)
	case Gemini:
		return c.chatGemini(ctx, req)
	default:
		return nil, fmt.Errorf("aiprovider: unsupported provider %q", c.provider)
	}
}

// SuggestPreventions adapts Chat into the narrower interface
// learning.AIProvider needs for low-confidence TroublePattern enrichment
// (spec.md §4.J "consult the AI provider for up to 3 additional
// suggestions").
func (c *LLMClient) SuggestPreventions(category string, keywords []string, n int) ([]string, error) {
	resp, err := c.Chat(context.Background(), Request{
		SystemMsg: "List concrete, one-line prevention measures for a recurring software defect category. Respond with one suggestion per line, no numbering.",
		Prompt:    fmt.Sprintf("Category: %s\nKeywords: %v\nSuggest up to %d prevention measures.", category, keywords, n),
	})
	if err != nil {
		return nil, err
	}
	return splitLines(resp.Content, n), nil
}

func splitLines(s string, max int) []string {
	var lines []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
		if len(lines) >= max {
			break
		}
	}
	return lines
}

func (c *LLMClient) chatOpenAICompatible(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	payload := map[string]any{
		"model": model,
		"messages": []map[string]any{
			{"role": "system", "content": req.SystemMsg},
			{"role": "user", "content": req.Prompt},
		},
		"temperature": c.config.Temperature,
		"max_tokens":  c.config.MaxTokens,
	}

	resp, err := c.makeRequest(ctx, "/v1/chat/completions", payload)
	if err != nil {
		return nil, err
	}
	return parseOpenAIResponse(c.provider, c.config.Model, resp)
}

func (c *LLMClient) chatAnthropic(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	payload := map[string]any{
		"model": model,
		"messages": []map[string]any{
			{"role": "user", "content": req.Prompt},
		},
		"max_tokens":  c.config.MaxTokens,
		"temperature": c.config.Temperature,
	}
	if req.SystemMsg != "" {
		payload["system"] = req.SystemMsg
	}

	resp, err := c.makeRequest(ctx, "/v1/messages", payload)
	if err != nil {
		return nil, err
	}
	return parseAnthropicResponse(c.config.Model, resp)
}

func (c *LLMClient) chatGemini(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	payload := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]any{{"text": req.Prompt}}},
		},
		"generationConfig": map[string]any{
			"temperature":     c.config.Temperature,
			"maxOutputTokens": c.config.MaxTokens,
		},
	}
	if req.SystemMsg != "" {
		payload["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.SystemMsg}},
		}
	}

	resp, err := c.makeRequest(ctx, fmt.Sprintf("/v1beta/models/%s:generateContent", model), payload)
	if err != nil {
		return nil, err
	}
	return parseGeminiResponse(c.config.Model, resp)
}

func (c *LLMClient) makeRequest(ctx context.Context, path string, payload any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("aiprovider: marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("aiprovider: build request: %w", err)
	}
	c.setAuthHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("aiprovider: request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("aiprovider: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("aiprovider: %s returned %d: %s", c.provider, resp.StatusCode, string(respBody))
	}

	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("aiprovider: unmarshal response: %w", err)
	}
	return result, nil
}

func (c *LLMClient) setAuthHeaders(req *http.Request) {
	switch c.provider {
	case OpenAI, DeepSeek, LiteLLM:
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
	case Anthropic:
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("anthropic-version", "2023-06-01")
	case Gemini:
		q := req.URL.Query()
		q.Add("key", c.apiKey)
		req.URL.RawQuery = q.Encode()
		req.Header.Set("Content-Type", "application/json")
	}
}

func defaultConfig(provider Provider) *Config {
	base := &Config{Temperature: 0.1, MaxTokens: 4000, Timeout: 60 * time.Second, RetryCount: 3}
	switch provider {
	case Anthropic:
		base.Model = "claude-3-5-sonnet-20241022"
	case Gemini:
		base.Model = "gemini-2.0-flash-exp"
	case DeepSeek:
		base.Model = "deepseek-chat"
	default:
		base.Model = "gpt-4o"
	}
	return base
}

func baseURLFor(provider Provider) string {
	switch provider {
	case Anthropic:
		return "https://api.anthropic.com"
	case Gemini:
		return "https://generativelanguage.googleapis.com"
	case DeepSeek:
		return "https://api.deepseek.com"
	case LiteLLM:
		return "http://localhost:4000"
	default:
		return "https://api.openai.com"
	}
}
