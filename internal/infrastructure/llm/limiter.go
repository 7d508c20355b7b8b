package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"NewsDesk/internal/ports"
)

// Limited wraps a LargeModel with a token-bucket rate limit.
type Limited struct {
	next    ports.LargeModel
	limiter *rate.Limiter
}

var _ ports.LargeModel = (*Limited)(nil)

// NewLimited allows perSecond requests with the given burst. A non-positive
// rate disables limiting.
func NewLimited(next ports.LargeModel, perSecond float64, burst int) *Limited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Ask waits for a token and delegates.
func (l *Limited) Ask(ctx context.Context, prompt, model string, maxTokens int) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("large model rate limit: %w", err)
	}
	return l.next.Ask(ctx, prompt, model, maxTokens)
}
