// Package feedback polls reactions on published messages and turns them into
// an engagement score on the digest.
package feedback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/metrics"
	"NewsDesk/internal/ports"
	"NewsDesk/internal/reactor"
)

const defaultClassWeight = 0.5

// Tracker runs one poller per published message.
type Tracker struct {
	source    ports.ReactionSource
	digests   ports.DigestStore
	reactor   *reactor.Reactor
	sink      *metrics.Sink
	logger    *slog.Logger
	channel   string
	interval  time.Duration
	window    time.Duration
	threshold int
	weights   map[string]float64

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithInterval overrides the poll cadence.
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) { t.interval = d }
}

// WithWindow overrides how long a message is tracked.
func WithWindow(d time.Duration) Option {
	return func(t *Tracker) { t.window = d }
}

// New builds a tracker. Pollers run until Stop, their window ends, or the
// tracker is stopped.
func New(cfg config.Config, source ports.ReactionSource, digests ports.DigestStore, rx *reactor.Reactor, sink *metrics.Sink, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	interval := time.Duration(cfg.Feedback.PollIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	window := time.Duration(cfg.Feedback.WindowHours) * time.Hour
	if window <= 0 {
		window = 24 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		source:    source,
		digests:   digests,
		reactor:   rx,
		sink:      sink,
		logger:    logger.With("component", "feedback"),
		channel:   cfg.Telegram.ChannelID,
		interval:  interval,
		window:    window,
		threshold: cfg.Feedback.SignalThreshold,
		weights:   cfg.Feedback.Weights,
		ctx:       ctx,
		cancel:    cancel,
		active:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track starts polling reactions for a published message. Duplicate calls
// for the same digest are ignored.
func (t *Tracker) Track(_ context.Context, digestID string, messageID int64) {
	if t.source == nil || t.ctx.Err() != nil {
		return
	}
	t.mu.Lock()
	if _, ok := t.active[digestID]; ok {
		t.mu.Unlock()
		return
	}
	t.active[digestID] = struct{}{}
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run(digestID, messageID)
}

// Active is the number of running pollers.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Stop cancels every poller and waits for them to exit.
func (t *Tracker) Stop() {
	t.cancel()
	t.wg.Wait()
}

func (t *Tracker) run(digestID string, messageID int64) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		delete(t.active, digestID)
		t.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(t.ctx, t.window)
	defer cancel()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	signalled := false
	for {
		select {
		case <-ctx.Done():
			t.logger.Debug("reaction tracking finished", "digest_id", digestID)
			return
		case <-ticker.C:
			total, err := t.Poll(ctx, digestID, messageID)
			if err != nil {
				t.logger.Warn("reaction poll failed", "digest_id", digestID, "error", err)
				continue
			}
			if !signalled && t.threshold > 0 && total > t.threshold {
				signalled = true
				t.sink.Inc(metrics.FeedbackSignals)
				if t.reactor != nil {
					t.reactor.Emit(ctx, reactor.EngagementSignal, "feedback", map[string]any{
						"digest_id": digestID,
						"reactions": total,
					})
				}
			}
		}
	}
}

// Poll reads reactions once and stores the engagement score. It returns the
// reaction total.
func (t *Tracker) Poll(ctx context.Context, digestID string, messageID int64) (int, error) {
	counts, err := t.source.Reactions(ctx, t.channel, messageID)
	if err != nil {
		return 0, err
	}
	t.sink.Inc(metrics.FeedbackPolls)
	score, total := EngagementScore(counts, t.weights)
	if err := t.digests.UpdateEngagement(ctx, digestID, score, total); err != nil {
		return total, err
	}
	t.logger.Debug("engagement updated", "digest_id", digestID, "score", score, "reactions", total)
	return total, nil
}

// EngagementScore is the weighted reaction sum normalized by the maximum
// weight at the same reaction count, clamped to [0,1]. Unknown classes
// weigh 0.5.
func EngagementScore(counts map[string]int, weights map[string]float64) (float64, int) {
	maxWeight := 0.0
	for _, w := range weights {
		if w > maxWeight {
			maxWeight = w
		}
	}
	if maxWeight <= 0 {
		maxWeight = 1
	}

	var total int
	var sum float64
	for class, n := range counts {
		if n <= 0 {
			continue
		}
		w, ok := weights[class]
		if !ok {
			w = defaultClassWeight
		}
		total += n
		sum += w * float64(n)
	}
	if total == 0 {
		return 0, 0
	}
	return domain.Clamp01(sum / (maxWeight * float64(total))), total
}
