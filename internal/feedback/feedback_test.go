package feedback

import (
	"context"
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

type growingReactions struct {
	mu    sync.Mutex
	polls int
}

func (g *growingReactions) Reactions(context.Context, string, int64) (map[string]int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls++
	return map[string]int{"👍": 2 * g.polls, "👎": 1}, nil
}

type engagementStore struct {
	mu        sync.Mutex
	score     float64
	reactions int
	updates   int
}

func (s *engagementStore) SaveDigest(context.Context, domain.Digest) error { return nil }
func (s *engagementStore) Digest(context.Context, string) (domain.Digest, error) {
	return domain.Digest{}, nil
}
func (s *engagementStore) DigestsByStatus(context.Context, domain.DigestStatus, int) ([]domain.Digest, error) {
	return nil, nil
}
func (s *engagementStore) UpdateStatus(context.Context, string, domain.DigestStatus) error { return nil }
func (s *engagementStore) MarkPublished(context.Context, domain.PublicationRecord) (bool, error) {
	return true, nil
}
func (s *engagementStore) UpdateEngagement(_ context.Context, _ string, score float64, reactions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.score, s.reactions = score, reactions
	s.updates++
	return nil
}
func (s *engagementStore) EngagedDigests(context.Context, int) ([]domain.Digest, error) {
	return nil, nil
}
func (s *engagementStore) ExpireReady(context.Context, time.Time) (int, error) { return 0, nil }

func (s *engagementStore) snapshot() (float64, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score, s.reactions, s.updates
}

func TestEngagementScore(t *testing.T) {
	t.Parallel()

	weights := map[string]float64{"👍": 1, "🔥": 1, "😢": 0.2, "👎": 0}
	cases := []struct {
		name   string
		counts map[string]int
		score  float64
		total  int
	}{
		{"empty", nil, 0, 0},
		{"all top class", map[string]int{"👍": 3, "🔥": 2}, 1, 5},
		{"mixed", map[string]int{"👍": 1, "👎": 1}, 0.5, 2},
		{"unknown class", map[string]int{"🤔": 2}, 0.5, 2},
		{"negative counts ignored", map[string]int{"👍": 2, "😢": -4}, 1, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			score, total := EngagementScore(tc.counts, weights)
			assert.InDelta(t, tc.score, score, 1e-9)
			assert.Equal(t, tc.total, total)
		})
	}
}

func TestTrackerPollsAndSignals(t *testing.T) {
	cfg := config.Default()
	cfg.Feedback.SignalThreshold = 5
	source := &growingReactions{}
	store := &engagementStore{}
	sink := metrics.New()

	var mu sync.Mutex
	var signals []reactor.Event
	rx := reactor.New(logging.Discard())
	rx.Subscribe(reactor.EngagementSignal, func(_ context.Context, ev reactor.Event) error {
		mu.Lock()
		signals = append(signals, ev)
		mu.Unlock()
		return nil
	})

	tr := New(cfg, source, store, rx, sink, logging.Discard(), WithInterval(10*time.Millisecond), WithWindow(time.Minute))
	defer tr.Stop()

	tr.Track(context.Background(), "d1", 77)
	tr.Track(context.Background(), "d1", 77)
	assert.Equal(t, 1, tr.Active())

	require.Eventually(t, func() bool {
		_, reactions, _ := store.snapshot()
		return reactions >= 7
	}, 2*time.Second, 5*time.Millisecond)

	score, _, updates := store.snapshot()
	assert.Greater(t, score, 0.5)
	assert.GreaterOrEqual(t, updates, 3)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(signals) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, sink.Counter(metrics.FeedbackSignals))
}

func TestTrackerStopsAfterWindow(t *testing.T) {
	tr := New(config.Default(), &growingReactions{}, &engagementStore{}, nil, metrics.New(), logging.Discard(),
		WithInterval(5*time.Millisecond), WithWindow(30*time.Millisecond))
	defer tr.Stop()

	tr.Track(context.Background(), "d1", 1)
	require.Eventually(t, func() bool { return tr.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTrackAfterStopIsIgnored(t *testing.T) {
	tr := New(config.Default(), &growingReactions{}, &engagementStore{}, nil, metrics.New(), logging.Discard())
	tr.Stop()
	tr.Track(context.Background(), "d1", 1)
	assert.Zero(t, tr.Active())
}

type fixedReactions struct {
	counts map[string]int
}

func (f fixedReactions) Reactions(context.Context, string, int64) (map[string]int, error) {
	return f.counts, nil
}

func TestTrackerSignalNeedsMoreThanThreshold(t *testing.T) {
	cfg := config.Default()
	cfg.Feedback.SignalThreshold = 5
	sink := metrics.New()
	store := &engagementStore{}

	tr := New(cfg, fixedReactions{counts: map[string]int{"👍": 5}}, store, nil, sink, logging.Discard(),
		WithInterval(5*time.Millisecond), WithWindow(time.Minute))
	defer tr.Stop()

	tr.Track(context.Background(), "d1", 3)
	require.Eventually(t, func() bool {
		_, _, updates := store.snapshot()
		return updates >= 3
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, sink.Counter(metrics.FeedbackSignals))
}
