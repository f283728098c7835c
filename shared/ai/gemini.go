package ai

import (
	"context"
	"fmt"

	"tubedigest/internal/models"
	"tubedigest/shared/config"
	"tubedigest/shared/retry"

	"google.golang.org/genai"
)

// Gemini summarizes videos through the Gemini API.
type Gemini struct {
	client   *genai.Client
	model    string
	language string
}

func NewGemini(cfg *config.AIConfig) (*Gemini, error) {
	ctx := context.Background()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.GeminiAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Gemini{
		client:   client,
		model:    cfg.Model,
		language: cfg.TargetLanguage,
	}, nil
}

func (g *Gemini) Summarize(ctx context.Context, video *models.Video) (*models.Summary, error) {
	if video == nil {
		return nil, fmt.Errorf("video cannot be nil")
	}

	prompt := buildSummaryPrompt(video, g.language)

	parts := []*genai.Part{
		genai.NewPartFromText(prompt),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	var responseText string
	err := retry.Do(ctx, "gemini generate", summaryRetryPolicy, IsRetryable, func(ctx context.Context) error {
		result, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
		if err != nil {
			return err
		}
		responseText = result.Text()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to summarize video %s: %w", video.ID, err)
	}

	if responseText == "" {
		return nil, fmt.Errorf("no summary response received for video %s", video.ID)
	}

	return parseSummaryResponse(responseText, video, g.model)
}
