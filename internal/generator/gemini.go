package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const geminiAttempts = 2

// GeminiModel is the production text model backed by the Gemini API.
// Transient upstream errors are retried inside the call; after the retry
// budget the error bubbles up and PolicyGenerator turns it into
// ErrGenerationUnavailable.
type GeminiModel struct {
	client *genai.Client
	name   string
}

func NewGeminiModel(ctx context.Context, apiKey, modelName string) (*GeminiModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiModel{client: client, name: modelName}, nil
}

var _ textModel = (*GeminiModel)(nil)

func (m *GeminiModel) Name() string {
	return m.name
}

func (m *GeminiModel) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error

	for attempt := 0; attempt < geminiAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second << attempt):
			}
		}

		result, err := m.client.Models.GenerateContent(ctx, m.name, genai.Text(prompt), nil)
		if err != nil {
			if !retryableModelError(err) {
				return "", err
			}
			lastErr = err
			continue
		}

		if result != nil && len(result.Candidates) > 0 &&
			result.Candidates[0].Content != nil && len(result.Candidates[0].Content.Parts) > 0 {
			return result.Candidates[0].Content.Parts[0].Text, nil
		}
		lastErr = fmt.Errorf("empty candidate from model %s", m.name)
	}

	return "", fmt.Errorf("gemini generate after %d attempts: %w", geminiAttempts, lastErr)
}

func retryableModelError(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "exhausted") ||
		strings.Contains(s, "unavailable") ||
		strings.Contains(s, "timeout")
}
