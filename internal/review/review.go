// Package review holds digests for an admin decision before they are
// published, auto-approving after a timeout.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/metrics"
	"NewsDesk/internal/ports"
	"NewsDesk/internal/reactor"
)

// Callback actions.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionEdit    = "edit"
)

// noTimeoutTTL bounds requests when auto-approve is off.
const noTimeoutTTL = 24 * time.Hour

// expiryGrace keeps a request alive past its auto-approve deadline so the
// cleanup job never expires it ahead of the timer.
const expiryGrace = 5 * time.Minute

var (
	// ErrNoPendingRequest is returned for callbacks without a pending request.
	ErrNoPendingRequest = errors.New("review: no pending request")
	// ErrBadCallback is returned for callback data that does not parse.
	ErrBadCallback = errors.New("review: malformed callback")
)

// Callback receives the digest once a decision is made.
type Callback func(ctx context.Context, d domain.Digest) error

type entry struct {
	req    domain.ReviewRequest
	digest domain.Digest
	cancel chan struct{}
}

// Gate tracks pending review requests in memory.
type Gate struct {
	enabled   bool
	adminChat string
	timeout   time.Duration
	transport ports.ReviewTransport
	reactor   *reactor.Reactor
	sink      *metrics.Sink
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	pending   map[string]*entry
	onApprove Callback
	onReject  Callback

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option customizes a Gate.
type Option func(*Gate)

// WithTimeout overrides auto_post_timeout_min.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) { g.timeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New builds a gate. transport and rx may be nil; without a transport the
// gate is effectively disabled.
func New(cfg config.Config, transport ports.ReviewTransport, rx *reactor.Reactor, sink *metrics.Sink, logger *slog.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		enabled:   cfg.ReviewEnabled(),
		adminChat: strings.TrimSpace(cfg.Telegram.AdminChatID),
		timeout:   time.Duration(cfg.Review.AutoPostTimeoutMin) * time.Minute,
		transport: transport,
		reactor:   rx,
		sink:      sink,
		logger:    logger.With("component", "review"),
		now:       time.Now,
		pending:   make(map[string]*entry),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OnApprove sets the callback invoked for approved digests.
func (g *Gate) OnApprove(cb Callback) {
	g.mu.Lock()
	g.onApprove = cb
	g.mu.Unlock()
}

// OnReject sets the callback invoked for rejected digests.
func (g *Gate) OnReject(cb Callback) {
	g.mu.Lock()
	g.onReject = cb
	g.mu.Unlock()
}

// Active reports whether review requests are sent at all.
func (g *Gate) Active() bool {
	return g.enabled && g.adminChat != "" && g.transport != nil
}

// RequestReview sends a preview to the admin and holds the digest. It
// returns false when review is inactive so the caller publishes directly.
func (g *Gate) RequestReview(ctx context.Context, d domain.Digest, text string) (bool, error) {
	if !g.Active() {
		return false, nil
	}

	g.mu.Lock()
	if e, ok := g.pending[d.ID]; ok && e.req.Status == domain.ReviewPending {
		g.mu.Unlock()
		return true, nil
	}
	g.mu.Unlock()

	now := g.now()
	ttl := g.timeout + expiryGrace
	if g.timeout <= 0 {
		ttl = noTimeoutTTL
	}
	req := domain.ReviewRequest{
		ID:        uuid.NewString(),
		DigestID:  d.ID,
		Text:      text,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Status:    domain.ReviewPending,
	}

	msgID, err := g.transport.SendReview(ctx, g.adminChat, text, d.ID)
	if err != nil {
		return false, fmt.Errorf("send review preview: %w", err)
	}
	req.AdminMessageID = msgID

	e := &entry{req: req, digest: d, cancel: make(chan struct{})}
	g.mu.Lock()
	g.pending[d.ID] = e
	size := len(g.pending)
	g.mu.Unlock()

	g.sink.Inc(metrics.ReviewRequested)
	g.sink.SetGauge(metrics.PendingReviews, float64(size))
	g.logger.Info("review requested", "digest_id", d.ID, "request_id", req.ID, "expires_at", req.ExpiresAt)
	g.emit(ctx, reactor.ReviewRequested, map[string]any{
		"digest_id":  d.ID,
		"request_id": req.ID,
		"expires_at": req.ExpiresAt.Format(time.RFC3339),
	})

	if g.timeout > 0 {
		g.wg.Add(1)
		go g.awaitTimeout(context.WithoutCancel(ctx), d.ID, e.cancel, g.timeout)
	}
	return true, nil
}

func (g *Gate) awaitTimeout(ctx context.Context, digestID string, cancel <-chan struct{}, d time.Duration) {
	defer g.wg.Done()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		if err := g.resolve(ctx, digestID, domain.ReviewApproved, true); err != nil && !errors.Is(err, ErrNoPendingRequest) {
			g.logger.Warn("auto-approve failed", "digest_id", digestID, "error", err)
		}
	case <-cancel:
	case <-g.stop:
	}
}

// HandleCallback parses `action:digestID` and applies it.
func (g *Gate) HandleCallback(ctx context.Context, data string) error {
	action, id, ok := ParseCallback(data)
	if !ok {
		return fmt.Errorf("%w: %q", ErrBadCallback, data)
	}
	switch action {
	case ActionApprove:
		return g.Approve(ctx, id)
	case ActionReject:
		return g.Reject(ctx, id)
	default:
		return g.Edit(ctx, id)
	}
}

// ParseCallback splits inline-button data.
func ParseCallback(data string) (action, digestID string, ok bool) {
	action, digestID, found := strings.Cut(strings.TrimSpace(data), ":")
	if !found || digestID == "" {
		return "", "", false
	}
	switch action {
	case ActionApprove, ActionReject, ActionEdit:
		return action, digestID, true
	}
	return "", "", false
}

// CallbackData builds inline-button data for a digest.
func CallbackData(action, digestID string) string {
	return action + ":" + digestID
}

// Approve resolves a pending request as approved.
func (g *Gate) Approve(ctx context.Context, digestID string) error {
	return g.resolve(ctx, digestID, domain.ReviewApproved, false)
}

// Reject resolves a pending request as rejected.
func (g *Gate) Reject(ctx context.Context, digestID string) error {
	return g.resolve(ctx, digestID, domain.ReviewRejected, false)
}

// Edit acknowledges an edit request; the request stays pending.
func (g *Gate) Edit(_ context.Context, digestID string) error {
	g.mu.Lock()
	_, ok := g.pending[digestID]
	g.mu.Unlock()
	if !ok {
		return ErrNoPendingRequest
	}
	g.logger.Info("edit requested", "digest_id", digestID)
	return nil
}

func (g *Gate) resolve(ctx context.Context, digestID string, status domain.ReviewStatus, auto bool) error {
	g.mu.Lock()
	e, ok := g.pending[digestID]
	if !ok || e.req.Status.Terminal() {
		g.mu.Unlock()
		return ErrNoPendingRequest
	}
	e.req.Status = status
	delete(g.pending, digestID)
	close(e.cancel)
	size := len(g.pending)
	cb := g.onReject
	if status == domain.ReviewApproved {
		cb = g.onApprove
	}
	g.mu.Unlock()

	g.sink.SetGauge(metrics.PendingReviews, float64(size))
	label := "REJECTED"
	if status == domain.ReviewApproved {
		label = "APPROVED"
		if auto {
			label = "AUTO-APPROVED"
			g.sink.Inc(metrics.ReviewAutoApproved)
		}
		g.sink.Inc(metrics.ReviewApproved)
	} else {
		g.sink.Inc(metrics.ReviewRejected)
	}

	var cbErr error
	if cb != nil {
		if err := cb(ctx, e.digest); err != nil {
			cbErr = fmt.Errorf("review %s callback: %w", status, err)
			g.logger.Error("review callback failed", "digest_id", digestID, "status", status, "error", err)
		}
	}

	if err := g.transport.EditMessage(ctx, g.adminChat, e.req.AdminMessageID, label+"\n\n"+e.req.Text); err != nil {
		g.logger.Warn("update review message", "digest_id", digestID, "error", err)
	}

	g.logger.Info("review resolved", "digest_id", digestID, "status", status, "auto", auto)
	g.emit(ctx, reactor.ReviewResolved, map[string]any{
		"digest_id":  digestID,
		"request_id": e.req.ID,
		"status":     string(status),
		"auto":       auto,
	})
	return cbErr
}

// CleanupExpired marks pending requests past their deadline as expired and
// drops them. The expired requests are returned.
func (g *Gate) CleanupExpired(ctx context.Context) []domain.ReviewRequest {
	now := g.now()
	var expired []*entry

	g.mu.Lock()
	for id, e := range g.pending {
		if e.req.Status == domain.ReviewPending && now.After(e.req.ExpiresAt) {
			e.req.Status = domain.ReviewExpired
			close(e.cancel)
			delete(g.pending, id)
			expired = append(expired, e)
		}
	}
	size := len(g.pending)
	g.mu.Unlock()

	out := make([]domain.ReviewRequest, 0, len(expired))
	for _, e := range expired {
		g.sink.Inc(metrics.ReviewExpired)
		if err := g.transport.EditMessage(ctx, g.adminChat, e.req.AdminMessageID, "EXPIRED\n\n"+e.req.Text); err != nil {
			g.logger.Warn("update expired review message", "digest_id", e.req.DigestID, "error", err)
		}
		g.emit(ctx, reactor.ReviewResolved, map[string]any{
			"digest_id":  e.req.DigestID,
			"request_id": e.req.ID,
			"status":     string(domain.ReviewExpired),
		})
		out = append(out, e.req)
	}
	if len(out) > 0 {
		g.sink.SetGauge(metrics.PendingReviews, float64(size))
		g.logger.Info("expired reviews swept", "count", len(out))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Pending returns a copy of pending requests, oldest first.
func (g *Gate) Pending() []domain.ReviewRequest {
	g.mu.Lock()
	out := make([]domain.ReviewRequest, 0, len(g.pending))
	for _, e := range g.pending {
		out = append(out, e.req)
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Stop cancels timeout tasks and waits for them. Pending requests stay
// pending until CleanupExpired sweeps them.
func (g *Gate) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
	g.wg.Wait()
}

func (g *Gate) emit(ctx context.Context, name string, payload map[string]any) {
	if g.reactor != nil {
		g.reactor.Emit(ctx, name, "review", payload)
	}
}
