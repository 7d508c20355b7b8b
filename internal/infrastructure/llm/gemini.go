package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"NewsDesk/internal/config"
	"NewsDesk/internal/ports"
)

// GeminiClient implements ports.LargeModel on the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

var _ ports.LargeModel = (*GeminiClient)(nil)

// NewGeminiClient connects to Gemini with an API key.
func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Ask generates a single completion for prompt.
func (g *GeminiClient) Ask(ctx context.Context, prompt, model string, maxTokens int) (string, error) {
	if model == "" || !strings.HasPrefix(model, "gemini") {
		model = g.model
	}
	var genCfg *genai.GenerateContentConfig
	if maxTokens > 0 {
		genCfg = &genai.GenerateContentConfig{MaxOutputTokens: int32(maxTokens)}
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), genCfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &ports.TransportError{
				Code:      apiErr.Code,
				Temporary: apiErr.Code == 429 || apiErr.Code >= 500,
				Err:       fmt.Errorf("gemini generate: %w", err),
			}
		}
		return "", &ports.TransportError{Temporary: true, Err: fmt.Errorf("gemini generate: %w", err)}
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini returned empty text")
	}
	return text, nil
}
