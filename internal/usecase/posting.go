package usecase

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
	"NewsDesk/internal/publisher"
	"NewsDesk/internal/reactor"
	"NewsDesk/internal/review"
	"NewsDesk/internal/selector"
)

// maxConsecutiveFailures aborts a cycle after this many failed sends in a row.
const maxConsecutiveFailures = 3

// ErrRepeatedFailure is returned when a cycle stops on consecutive failures.
var ErrRepeatedFailure = errors.New("posting cycle: repeated publish failures")

// WindowFilter narrows ready digests to the current time window.
type WindowFilter interface {
	Filter(digests []domain.Digest, now time.Time) []domain.Digest
}

// Picker ranks eligible digests.
type Picker interface {
	Select(digests []domain.Digest) selector.Selection
}

// Sender publishes one digest.
type Sender interface {
	Publish(ctx context.Context, d domain.Digest) (publisher.Outcome, error)
	Preview(d domain.Digest) string
}

// Reviewer holds digests for human approval.
type Reviewer interface {
	Active() bool
	RequestReview(ctx context.Context, d domain.Digest, text string) (bool, error)
	OnApprove(cb review.Callback)
	OnReject(cb review.Callback)
	CleanupExpired(ctx context.Context) []domain.ReviewRequest
}

// PostingDeps wires the posting cycle.
type PostingDeps struct {
	Digests   ports.DigestStore
	Schedule  WindowFilter
	Selector  Picker
	Publisher Sender
	Review    Reviewer
	Reactor   *reactor.Reactor
	Sink      *metrics.Sink
	Logger    *slog.Logger
}

// CycleReport summarizes one posting cycle.
type CycleReport struct {
	At        time.Time
	Expired   int
	Ready     int
	InWindow  int
	Selected  int
	Published int
	DryRun    int
	Reviewing int
	Skipped   int
	Failed    int
}

// PostingCycle moves ready digests through window, selection, review and
// publishing.
type PostingCycle struct {
	enabled bool
	ttl     time.Duration
	deps    PostingDeps
	logger  *slog.Logger

	mu       sync.Mutex
	running  bool
	approved map[string]struct{}
}

// NewPostingCycle builds the cycle and registers review callbacks.
func NewPostingCycle(cfg config.Config, deps PostingDeps) *PostingCycle {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := time.Duration(cfg.Autopublish.DigestTTLHours) * time.Hour
	c := &PostingCycle{
		enabled:  cfg.Autopublish.Enabled,
		ttl:      ttl,
		deps:     deps,
		logger:   logger.With("component", "posting_cycle"),
		approved: map[string]struct{}{},
	}
	if deps.Review != nil {
		deps.Review.OnApprove(c.onApproved)
		deps.Review.OnReject(c.onRejected)
	}
	return c
}

// Enabled reports whether autopublish is switched on.
func (c *PostingCycle) Enabled() bool { return c.enabled }

// Run executes one cycle at now. Overlapping calls return immediately.
func (c *PostingCycle) Run(ctx context.Context, now time.Time) (CycleReport, error) {
	report := CycleReport{At: now}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.logger.Debug("cycle already running")
		return report, nil
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	if c.ttl > 0 {
		n, err := c.deps.Digests.ExpireReady(ctx, now.Add(-c.ttl))
		if err != nil {
			return report, fmt.Errorf("expire digests: %w", err)
		}
		report.Expired = n
		if n > 0 {
			c.deps.Sink.Add(metrics.DigestsExpired, float64(n))
			if c.deps.Reactor != nil {
				c.deps.Reactor.Emit(ctx, reactor.DigestExpired, "posting_cycle", map[string]any{"count": n})
			}
		}
	}

	ready, err := c.deps.Digests.DigestsByStatus(ctx, domain.DigestReady, 0)
	if err != nil {
		return report, fmt.Errorf("load ready digests: %w", err)
	}
	report.Ready = len(ready)

	inWindow := ready
	if c.deps.Schedule != nil {
		inWindow = c.deps.Schedule.Filter(ready, now)
	}
	report.InWindow = len(inWindow)

	picked := selector.Selection{}
	if c.deps.Selector != nil {
		picked = c.deps.Selector.Select(inWindow)
	} else {
		for _, d := range inWindow {
			picked.Items = append(picked.Items, selector.Candidate{Digest: d})
		}
	}
	report.Selected = len(picked.Items)

	failures := 0
	for _, cand := range picked.Items {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		d := cand.Digest

		if c.needsReview(d.ID) {
			if err := c.requestReview(ctx, d); err != nil {
				c.logger.Error("review request failed", "digest_id", d.ID, "error", err)
				report.Failed++
				continue
			}
			report.Reviewing++
			continue
		}

		out, err := c.deps.Publisher.Publish(ctx, d)
		switch {
		case errors.Is(err, publisher.ErrMinGap):
			report.Skipped++
			c.finish(report)
			return report, nil
		case errors.Is(err, publisher.ErrNotPublishable):
			report.Skipped++
			continue
		case err != nil:
			report.Failed++
			failures++
			c.logger.Warn("publish failed", "digest_id", d.ID, "consecutive", failures, "error", err)
			if failures >= maxConsecutiveFailures {
				c.finish(report)
				return report, ErrRepeatedFailure
			}
			continue
		}
		failures = 0
		c.clearApproved(d.ID)
		if out.Status == publisher.StatusDryRun {
			report.DryRun++
		} else {
			report.Published++
		}
	}

	c.finish(report)
	return report, nil
}

func (c *PostingCycle) finish(r CycleReport) {
	c.logger.Info("posting cycle done",
		"ready", r.Ready,
		"in_window", r.InWindow,
		"selected", r.Selected,
		"published", r.Published,
		"dry_run", r.DryRun,
		"reviewing", r.Reviewing,
		"skipped", r.Skipped,
		"failed", r.Failed,
		"expired", r.Expired,
	)
}

func (c *PostingCycle) needsReview(id string) bool {
	if c.deps.Review == nil || !c.deps.Review.Active() {
		return false
	}
	c.mu.Lock()
	_, ok := c.approved[id]
	c.mu.Unlock()
	return !ok
}

func (c *PostingCycle) requestReview(ctx context.Context, d domain.Digest) error {
	if err := c.deps.Digests.UpdateStatus(ctx, d.ID, domain.DigestReviewing); err != nil {
		return fmt.Errorf("mark reviewing: %w", err)
	}
	d.Status = domain.DigestReviewing
	ok, err := c.deps.Review.RequestReview(ctx, d, c.deps.Publisher.Preview(d))
	if err != nil || !ok {
		if rerr := c.deps.Digests.UpdateStatus(ctx, d.ID, domain.DigestReady); rerr != nil {
			c.logger.Error("restore ready status", "digest_id", d.ID, "error", rerr)
		}
		if err == nil {
			err = errors.New("review gate declined the request")
		}
		return err
	}
	return nil
}

// onApproved publishes an approved digest. When the minimum gap blocks it,
// the digest returns to ready and is published by a later cycle without
// another review.
func (c *PostingCycle) onApproved(ctx context.Context, d domain.Digest) error {
	if err := c.deps.Digests.UpdateStatus(ctx, d.ID, domain.DigestReady); err != nil {
		return fmt.Errorf("mark approved digest ready: %w", err)
	}
	c.mu.Lock()
	c.approved[d.ID] = struct{}{}
	c.mu.Unlock()

	d.Status = domain.DigestReady
	_, err := c.deps.Publisher.Publish(ctx, d)
	switch {
	case err == nil:
		c.clearApproved(d.ID)
		return nil
	case errors.Is(err, publisher.ErrMinGap):
		c.logger.Info("approved digest deferred by minimum gap", "digest_id", d.ID)
		return nil
	default:
		return err
	}
}

func (c *PostingCycle) onRejected(ctx context.Context, d domain.Digest) error {
	if err := c.deps.Digests.UpdateStatus(ctx, d.ID, domain.DigestRejected); err != nil {
		return fmt.Errorf("mark digest rejected: %w", err)
	}
	return nil
}

// CleanupReviews expires stale review requests and their digests.
func (c *PostingCycle) CleanupReviews(ctx context.Context) int {
	if c.deps.Review == nil {
		return 0
	}
	expired := c.deps.Review.CleanupExpired(ctx)
	for _, req := range expired {
		if err := c.deps.Digests.UpdateStatus(ctx, req.DigestID, domain.DigestExpired); err != nil {
			c.logger.Warn("expire reviewed digest", "digest_id", req.DigestID, "error", err)
		}
	}
	if len(expired) > 0 {
		c.logger.Info("review requests expired", "count", len(expired))
	}
	return len(expired)
}

func (c *PostingCycle) clearApproved(id string) {
	c.mu.Lock()
	delete(c.approved, id)
	c.mu.Unlock()
}
