package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tubedigest/internal/models"
	"tubedigest/shared/config"
	"tubedigest/shared/retry"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"

	// Request parameters tuned for short factual digests.
	chatTemperature = 0.3
	chatMaxTokens   = 1500
	requestTimeout  = 60 * time.Second
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// ProviderError reports a non-2xx response from the chat API.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("chat api error %d: %s", e.Status, e.Body)
}

// OpenRouter summarizes videos through the OpenRouter chat-completions API.
type OpenRouter struct {
	baseURL    string
	apiKey     string
	model      string
	language   string
	httpClient *http.Client
}

func NewOpenRouter(cfg *config.AIConfig, opts ...func(*OpenRouter)) *OpenRouter {
	c := &OpenRouter{
		baseURL:  defaultBaseURL,
		apiKey:   cfg.OpenRouterAPIKey,
		model:    cfg.Model,
		language: cfg.TargetLanguage,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithHTTPClient overrides the internal HTTP client.
func WithHTTPClient(hc *http.Client) func(*OpenRouter) {
	return func(c *OpenRouter) {
		c.httpClient = hc
	}
}

// WithBaseURL overrides the default API base URL (useful for tests).
func WithBaseURL(url string) func(*OpenRouter) {
	return func(c *OpenRouter) {
		if url != "" {
			c.baseURL = url
		}
	}
}

func (o *OpenRouter) Summarize(ctx context.Context, video *models.Video) (*models.Summary, error) {
	if video == nil {
		return nil, fmt.Errorf("video cannot be nil")
	}
	if o.apiKey == "" {
		return nil, fmt.Errorf("OpenRouter API key is missing")
	}

	req := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "user", Content: buildSummaryPrompt(video, o.language)},
		},
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	}

	var responseText string
	err := retry.Do(ctx, "openrouter chat", summaryRetryPolicy, IsRetryable, func(ctx context.Context) error {
		text, err := o.chatCompletion(ctx, req)
		if err != nil {
			return err
		}
		responseText = text
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to summarize video %s: %w", video.ID, err)
	}

	if responseText == "" {
		return nil, fmt.Errorf("no summary response received for video %s", video.ID)
	}

	return parseSummaryResponse(responseText, video, o.model)
}

func (o *OpenRouter) chatCompletion(ctx context.Context, req chatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &ProviderError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}

	if len(payload.Choices) == 0 {
		return "", fmt.Errorf("chat response contained no choices")
	}
	return payload.Choices[0].Message.Content, nil
}
