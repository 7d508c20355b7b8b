// Package publisher delivers one digest to the chat channel exactly once.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/metrics"
	"NewsDesk/internal/ports"
	"NewsDesk/internal/reactor"
)

// MetaLastPublished is the meta key holding the last published digest id.
const MetaLastPublished = "last_published_digest"

const (
	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
	parseMode   = "MarkdownV2"
)

// Outcome statuses.
const (
	StatusSent    = "sent"
	StatusDryRun  = "dry_run"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

var (
	// ErrNotPublishable is returned for digests that are not ready or were
	// already published.
	ErrNotPublishable = errors.New("publisher: digest not publishable")
	// ErrMinGap is returned while the minimum inter-post gap has not elapsed.
	ErrMinGap = errors.New("publisher: minimum gap not elapsed")
)

// Tracker starts engagement polling for a sent message.
type Tracker interface {
	Track(ctx context.Context, digestID string, messageID int64)
}

// RecentMarker records published ids for the window scheduler.
type RecentMarker interface {
	MarkPublished(id string, now time.Time)
}

// Outcome describes one publish call.
type Outcome struct {
	Status    string
	DigestID  string
	MessageID int64
	Attempts  int
	Text      string
}

// Deps are the publisher collaborators. Meta, Reactor, Tracker, Recent and
// PublishLog may be nil.
type Deps struct {
	Transport  ports.ChatTransport
	Digests    ports.DigestStore
	Meta       ports.MetaStore
	Reactor    *reactor.Reactor
	Sink       *metrics.Sink
	Tracker    Tracker
	Recent     RecentMarker
	PublishLog *slog.Logger
	Logger     *slog.Logger
}

// Publisher formats and sends digests.
type Publisher struct {
	deps        Deps
	channel     string
	format      string
	dryRun      bool
	teaser      bool
	tracking    bool
	minGap      time.Duration
	maxAttempts int
	sendTimeout time.Duration

	mu     sync.Mutex
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// WithSleep overrides the backoff sleeper.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Publisher) { p.sleep = sleep }
}

// WithDryRun forces dry-run mode regardless of configuration.
func WithDryRun(dry bool) Option {
	return func(p *Publisher) { p.dryRun = dry }
}

// New builds a publisher.
func New(cfg config.Config, deps Deps, opts ...Option) *Publisher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.PublishLog == nil {
		deps.PublishLog = logger.With("log", "publish")
	}
	format := cfg.Autopublish.Format
	if format != FormatV1 {
		format = FormatV2
	}
	attempts := cfg.Autopublish.MaxRetries
	if attempts <= 0 {
		attempts = 3
	}
	timeout := time.Duration(cfg.Autopublish.SendTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &Publisher{
		deps:        deps,
		channel:     cfg.Telegram.ChannelID,
		format:      format,
		dryRun:      cfg.Autopublish.DryRun,
		teaser:      cfg.TeaserEnabled(),
		tracking:    cfg.ReactionTrackingEnabled(),
		minGap:      time.Duration(cfg.Autopublish.MinGapMinutes) * time.Minute,
		maxAttempts: attempts,
		sendTimeout: timeout,
		now:         time.Now,
		sleep:       sleepCtx,
		logger:      logger.With("component", "publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DryRun reports whether sends are skipped.
func (p *Publisher) DryRun() bool { return p.dryRun }

// Preview renders a digest without side effects.
func (p *Publisher) Preview(d domain.Digest) string {
	return Render(d, p.format, p.teaser)
}

// Publish sends d once. A digest that is already published or not ready
// yields ErrNotPublishable without side effects. Transport failures leave
// the digest unpublished.
func (p *Publisher) Publish(ctx context.Context, d domain.Digest) (Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := Outcome{Status: StatusSkipped, DigestID: d.ID}
	if stored, err := p.deps.Digests.Digest(ctx, d.ID); err == nil {
		d = stored
	} else {
		p.logger.Debug("digest not in store, using caller copy", "digest_id", d.ID, "error", err)
	}
	if !d.Publishable() {
		return out, ErrNotPublishable
	}
	now := p.now()
	if last := p.deps.Sink.LastPublishedAt(); p.minGap > 0 && !last.IsZero() && now.Sub(last) < p.minGap {
		p.logger.Debug("minimum gap not elapsed", "digest_id", d.ID, "since_last", now.Sub(last))
		return out, ErrMinGap
	}

	text := Render(d, p.format, p.teaser)
	out.Text = text

	if p.dryRun {
		return p.finishDryRun(ctx, d, out, now)
	}

	started := time.Now()
	msgID, attempts, err := p.send(ctx, text)
	out.Attempts = attempts
	p.deps.Sink.Observe(metrics.PublishLatency, time.Since(started))
	if err != nil {
		out.Status = StatusFailed
		p.deps.Sink.Inc(metrics.PublishErrors)
		p.deps.PublishLog.Error("publish failed", "digest_id", d.ID, "attempts", attempts, "error", err)
		return out, fmt.Errorf("publish %s: %w", d.ID, err)
	}
	out.MessageID = msgID

	rec := domain.PublicationRecord{DigestID: d.ID, ChannelID: p.channel, MessageID: msgID, SentAt: now}
	flipped, err := p.deps.Digests.MarkPublished(ctx, rec)
	if err != nil {
		p.logger.Error("message sent but publication state not saved", "digest_id", d.ID, "message_id", msgID, "error", err)
	} else if !flipped {
		p.logger.Warn("digest was marked published concurrently", "digest_id", d.ID)
	}

	out.Status = StatusSent
	p.afterPublish(ctx, d, now)
	p.deps.Sink.Inc(metrics.PublishTotal)
	p.deps.PublishLog.Info("published", "digest_id", d.ID, "message_id", msgID, "attempts", attempts, "channel", p.channel)
	if p.deps.Reactor != nil {
		p.deps.Reactor.Emit(ctx, reactor.DigestPublished, "publisher", map[string]any{
			"digest_id":  d.ID,
			"message_id": msgID,
			"category":   d.Category,
			"channel":    p.channel,
		})
	}
	if p.tracking && p.deps.Tracker != nil {
		p.deps.Tracker.Track(ctx, d.ID, msgID)
	}
	return out, nil
}

func (p *Publisher) finishDryRun(ctx context.Context, d domain.Digest, out Outcome, now time.Time) (Outcome, error) {
	p.deps.PublishLog.Info("dry run preview", "digest_id", d.ID, "text", out.Text)
	rec := domain.PublicationRecord{DigestID: d.ID, ChannelID: p.channel, SentAt: now, DryRun: true}
	if _, err := p.deps.Digests.MarkPublished(ctx, rec); err != nil {
		return out, fmt.Errorf("mark dry-run digest %s: %w", d.ID, err)
	}
	out.Status = StatusDryRun
	p.afterPublish(ctx, d, now)
	p.deps.Sink.Inc(metrics.PublishDryRun)
	return out, nil
}

func (p *Publisher) afterPublish(ctx context.Context, d domain.Digest, now time.Time) {
	p.deps.Sink.MarkPublished(now)
	if p.deps.Recent != nil {
		p.deps.Recent.MarkPublished(d.ID, now)
	}
	if p.deps.Meta != nil {
		if err := p.deps.Meta.SetMeta(ctx, MetaLastPublished, d.ID); err != nil {
			p.logger.Warn("save last published pointer", "digest_id", d.ID, "error", err)
		}
	}
}

// send retries temporary transport errors with exponential backoff, using a
// retry-after hint verbatim when the transport gives one.
func (p *Publisher) send(ctx context.Context, text string) (int64, int, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
		msgID, err := p.deps.Transport.SendMessage(callCtx, p.channel, text, parseMode)
		cancel()
		if err == nil {
			return msgID, attempt, nil
		}
		lastErr = err
		if !ports.IsTemporary(err) || attempt == p.maxAttempts {
			return 0, attempt, err
		}

		wait := ports.RetryAfter(err)
		if wait <= 0 {
			wait = backoff(attempt)
		}
		p.deps.Sink.Inc(metrics.PublishRetries)
		p.deps.PublishLog.Warn("send failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		if err := p.sleep(ctx, wait); err != nil {
			return 0, attempt, err
		}
	}
	return 0, p.maxAttempts, lastErr
}

func backoff(attempt int) time.Duration {
	d := baseBackoff << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
