package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"tubedigest/internal/models"
	"tubedigest/shared/config"
	"tubedigest/shared/retry"

	log "github.com/sirupsen/logrus"
)

// Summarizer produces the digest summary for a single video. Implementations
// are stateless per call: no conversation state is kept and every run
// re-summarizes whatever the lister returned.
type Summarizer interface {
	Summarize(ctx context.Context, video *models.Video) (*models.Summary, error)
}

// NewSummarizer builds the provider selected by ai.provider.
func NewSummarizer(cfg *config.AIConfig) (Summarizer, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGemini(cfg)
	case config.ProviderOpenRouter:
		return NewOpenRouter(cfg), nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}

// Summary length contract. Responses outside the range are logged and kept
// as-is; a second call would cost quota for little gain.
const (
	summaryMinChars = 300
	summaryMaxChars = 500
)

// maxDescriptionChars keeps prompts inside provider-safe bounds.
const maxDescriptionChars = 1000

var summaryRetryPolicy = retry.Policy{
	MaxAttempts:     2,
	InitialInterval: 2 * time.Second,
	MaxInterval:     10 * time.Second,
	Multiplier:      2,
}

func buildSummaryPrompt(video *models.Video, language string) string {
	channelTitle := ""
	if video.Channel != nil {
		channelTitle = video.Channel.Title
	}

	return fmt.Sprintf(`You are an assistant that writes concise digests of YouTube videos for a daily email report.

VIDEO METADATA:
Title: %s
Channel: %s
Published: %s
Description: %s

INSTRUCTIONS:
1. Write a summary of this video in %s based on the metadata above.
2. Use exactly two paragraphs separated by a blank line: the first states what the video covers, the second details the key points.
3. Keep the whole summary between %d and %d characters.
4. Translate the title into %s.

Respond in the following JSON format:
{
  "summary": "the two-paragraph summary",
  "title_translation": "the translated title"
}`,
		video.Title,
		channelTitle,
		video.PublishedAt.Format("2006-01-02 15:04"),
		truncateString(video.Description, maxDescriptionChars),
		language,
		summaryMinChars,
		summaryMaxChars,
		language,
	)
}

func parseSummaryResponse(response string, video *models.Video, model string) (*models.Summary, error) {
	startIdx := strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")

	if startIdx == -1 || endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("no JSON found in response: %s", response)
	}

	jsonStr := response[startIdx : endIdx+1]

	var payload struct {
		Summary          string `json:"summary"`
		TitleTranslation string `json:"title_translation"`
	}

	if err := json.Unmarshal([]byte(jsonStr), &payload); err != nil {
		// Try to sanitize and parse again
		sanitized := sanitizeJSON(jsonStr)
		if sanitizedErr := json.Unmarshal([]byte(sanitized), &payload); sanitizedErr != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON %q: %w (sanitized version also failed: %v)", jsonStr, err, sanitizedErr)
		}
		log.Warnf("Had to sanitize malformed JSON for video %s", video.Title)
	}

	if payload.Summary == "" {
		return nil, fmt.Errorf("summary is required but was empty")
	}

	if n := utf8.RuneCountInString(payload.Summary); n < summaryMinChars || n > summaryMaxChars {
		log.Warnf("Summary for %q is %d characters, outside the %d-%d target", video.Title, n, summaryMinChars, summaryMaxChars)
	}

	return &models.Summary{
		Video:            video,
		Body:             payload.Summary,
		TitleTranslation: payload.TitleTranslation,
		Model:            model,
	}, nil
}

// IsRetryable reports whether a provider call is worth another attempt:
// rate limits, server-side failures and transport errors qualify; anything
// the provider rejected outright does not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Status == http.StatusTooManyRequests || provErr.Status >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// The Gemini client surfaces the gRPC status in its error text.
	msg := err.Error()
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "UNAVAILABLE") ||
		strings.Contains(msg, "DEADLINE_EXCEEDED") ||
		strings.Contains(msg, "INTERNAL")
}

func sanitizeJSON(jsonStr string) string {
	// Handle common JSON formatting issues from model responses: split by
	// lines and escape stray quotes inside string values.
	lines := strings.Split(jsonStr, "\n")
	var sanitizedLines []string

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.Contains(line, ":") && strings.Contains(line, "\"") {
			colonIdx := strings.Index(line, ":")
			if colonIdx != -1 {
				beforeColon := line[:colonIdx+1]
				afterColon := strings.TrimSpace(line[colonIdx+1:])

				if strings.HasPrefix(afterColon, "\"") {
					lastQuoteIdx := strings.LastIndex(afterColon, "\"")
					if lastQuoteIdx > 0 {
						stringContent := afterColon[1:lastQuoteIdx]
						stringContent = strings.ReplaceAll(stringContent, "\\\"", "\"")
						stringContent = strings.ReplaceAll(stringContent, "\"", "\\\"")

						remainder := afterColon[lastQuoteIdx+1:]
						line = beforeColon + " \"" + stringContent + "\"" + remainder
					}
				}
			}
		}

		sanitizedLines = append(sanitizedLines, line)
	}

	return strings.Join(sanitizedLines, "\n")
}

func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength] + "..."
}
