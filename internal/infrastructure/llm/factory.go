package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"NewsDesk/internal/config"
	"NewsDesk/internal/ports"
)

// New builds the configured large-model backend behind a rate limiter.
func New(ctx context.Context, cfg config.Config) (ports.LargeModel, error) {
	var backend ports.LargeModel
	switch strings.ToLower(cfg.LargeModel.Provider) {
	case "", "chatgpt", "openai":
		backend = NewChatGPTClient(cfg.ChatGPT, time.Duration(cfg.LargeModel.TimeoutSeconds)*time.Second)
	case "gemini":
		g, err := NewGeminiClient(ctx, cfg.Gemini)
		if err != nil {
			return nil, err
		}
		backend = g
	default:
		return nil, fmt.Errorf("unknown large model provider %q", cfg.LargeModel.Provider)
	}
	return NewLimited(backend, cfg.LargeModel.RatePerSecond, cfg.LargeModel.Burst), nil
}
