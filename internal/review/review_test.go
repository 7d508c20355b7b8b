package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/logging"
	"NewsDesk/internal/metrics"
	"NewsDesk/internal/reactor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []string
	edits   map[int64]string
	nextID  int64
	sendErr error
}

func (f *fakeTransport) SendReview(_ context.Context, _ string, text, digestID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, digestID)
	return f.nextID, nil
}

func (f *fakeTransport) EditMessage(_ context.Context, _ string, id int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.edits == nil {
		f.edits = map[int64]string{}
	}
	f.edits[id] = text
	return nil
}

func (f *fakeTransport) edit(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edits[id]
}

type recorder struct {
	mu      sync.Mutex
	digests []string
}

func (r *recorder) callback(_ context.Context, d domain.Digest) error {
	r.mu.Lock()
	r.digests = append(r.digests, d.ID)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.digests)
}

func reviewConfig() config.Config {
	cfg := config.Default()
	cfg.Features.ReviewMode = true
	cfg.Telegram.AdminChatID = "42"
	cfg.Review.AutoPostTimeoutMin = 30
	return cfg
}

func newGate(t *testing.T, cfg config.Config, opts ...Option) (*Gate, *fakeTransport, *metrics.Sink, *recorder, *recorder) {
	t.Helper()
	tr := &fakeTransport{}
	sink := metrics.New()
	g := New(cfg, tr, reactor.New(logging.Discard()), sink, logging.Discard(), opts...)
	approved, rejected := &recorder{}, &recorder{}
	g.OnApprove(approved.callback)
	g.OnReject(rejected.callback)
	t.Cleanup(g.Stop)
	return g, tr, sink, approved, rejected
}

func TestRequestReviewInactive(t *testing.T) {
	cfg := reviewConfig()
	cfg.Telegram.AdminChatID = ""
	g, tr, _, _, _ := newGate(t, cfg)

	held, err := g.RequestReview(context.Background(), domain.Digest{ID: "d1"}, "preview")
	require.NoError(t, err)
	assert.False(t, held)
	assert.Empty(t, tr.sent)

	cfg = reviewConfig()
	cfg.Features.ReviewMode = false
	g2, _, _, _, _ := newGate(t, cfg)
	held, err = g2.RequestReview(context.Background(), domain.Digest{ID: "d1"}, "preview")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestAutoApproveAfterTimeout(t *testing.T) {
	g, tr, sink, approved, _ := newGate(t, reviewConfig(), WithTimeout(time.Second))

	held, err := g.RequestReview(context.Background(), domain.Digest{ID: "d1"}, "preview")
	require.NoError(t, err)
	require.True(t, held)
	require.Len(t, g.Pending(), 1)

	require.Eventually(t, func() bool {
		return approved.count() == 1 && tr.edit(1) != ""
	}, 3*time.Second, 20*time.Millisecond)

	assert.Empty(t, g.Pending())
	assert.Equal(t, 1.0, sink.Counter(metrics.ReviewApproved))
	assert.Equal(t, 1.0, sink.Counter(metrics.ReviewAutoApproved))
	assert.Zero(t, sink.Counter(metrics.ReviewExpired))
	assert.Contains(t, tr.edit(1), "AUTO-APPROVED")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, approved.count())
}

func TestExplicitDecisionCancelsTimer(t *testing.T) {
	g, tr, sink, approved, rejected := newGate(t, reviewConfig(), WithTimeout(200*time.Millisecond))
	ctx := context.Background()

	_, err := g.RequestReview(ctx, domain.Digest{ID: "d1"}, "one")
	require.NoError(t, err)
	_, err = g.RequestReview(ctx, domain.Digest{ID: "d2"}, "two")
	require.NoError(t, err)

	require.NoError(t, g.HandleCallback(ctx, "reject:d1"))
	require.NoError(t, g.HandleCallback(ctx, "approve:d2"))

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 1, approved.count())
	assert.Equal(t, 1, rejected.count())
	assert.Equal(t, 1.0, sink.Counter(metrics.ReviewApproved))
	assert.Equal(t, 1.0, sink.Counter(metrics.ReviewRejected))
	assert.Zero(t, sink.Counter(metrics.ReviewAutoApproved))
	assert.Contains(t, tr.edit(1), "REJECTED")
	assert.Contains(t, tr.edit(2), "APPROVED")

	err = g.HandleCallback(ctx, "approve:d2")
	require.ErrorIs(t, err, ErrNoPendingRequest)
}

func TestCallbackParsing(t *testing.T) {
	cases := []struct {
		data   string
		action string
		id     string
		ok     bool
	}{
		{"approve:abc", ActionApprove, "abc", true},
		{"reject:abc-123", ActionReject, "abc-123", true},
		{"edit:x", ActionEdit, "x", true},
		{"publish:x", "", "", false},
		{"approve:", "", "", false},
		{"approve", "", "", false},
	}
	for _, tc := range cases {
		action, id, ok := ParseCallback(tc.data)
		assert.Equal(t, tc.ok, ok, tc.data)
		assert.Equal(t, tc.action, action, tc.data)
		assert.Equal(t, tc.id, id, tc.data)
	}
	assert.Equal(t, "approve:abc", CallbackData(ActionApprove, "abc"))

	g, _, _, _, _ := newGate(t, reviewConfig())
	require.ErrorIs(t, g.HandleCallback(context.Background(), "nonsense"), ErrBadCallback)
}

func TestEditKeepsRequestPending(t *testing.T) {
	g, _, _, approved, _ := newGate(t, reviewConfig())
	ctx := context.Background()
	_, err := g.RequestReview(ctx, domain.Digest{ID: "d1"}, "preview")
	require.NoError(t, err)

	require.NoError(t, g.HandleCallback(ctx, "edit:d1"))
	assert.Len(t, g.Pending(), 1)
	assert.Zero(t, approved.count())
	require.ErrorIs(t, g.Edit(ctx, "unknown"), ErrNoPendingRequest)
}

func TestCleanupExpired(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	cfg := reviewConfig()
	cfg.Review.AutoPostTimeoutMin = 0
	g, tr, sink, approved, _ := newGate(t, cfg, WithClock(clock))

	_, err := g.RequestReview(context.Background(), domain.Digest{ID: "d1"}, "preview")
	require.NoError(t, err)
	assert.Empty(t, g.CleanupExpired(context.Background()))

	mu.Lock()
	now = now.Add(25 * time.Hour)
	mu.Unlock()
	expired := g.CleanupExpired(context.Background())
	require.Len(t, expired, 1)
	assert.Equal(t, domain.ReviewExpired, expired[0].Status)
	assert.Equal(t, 1.0, sink.Counter(metrics.ReviewExpired))
	assert.Zero(t, approved.count())
	assert.Contains(t, tr.edit(1), "EXPIRED")
	require.ErrorIs(t, g.Approve(context.Background(), "d1"), ErrNoPendingRequest)
}

func TestCleanupWaitsPastAutoApproveDeadline(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	g, _, _, _, _ := newGate(t, reviewConfig(), WithClock(clock))

	_, err := g.RequestReview(context.Background(), domain.Digest{ID: "d1"}, "preview")
	require.NoError(t, err)

	advance(30*time.Minute + time.Second)
	assert.Empty(t, g.CleanupExpired(context.Background()), "request must outlive its auto-approve timer")

	advance(expiryGrace)
	require.Len(t, g.CleanupExpired(context.Background()), 1)
}

func TestSendFailureLeavesNothingPending(t *testing.T) {
	g, tr, _, _, _ := newGate(t, reviewConfig())
	tr.sendErr = errors.New("chat unavailable")

	held, err := g.RequestReview(context.Background(), domain.Digest{ID: "d1"}, "preview")
	require.Error(t, err)
	assert.False(t, held)
	assert.Empty(t, g.Pending())
}
