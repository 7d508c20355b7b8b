package cache

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/logging"
	"NewsDesk/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, cfg config.CacheConfig) (*Cache, *fakeClock, *metrics.Sink) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)}
	sink := metrics.New()
	return New(cfg, true, logging.Discard(), WithClock(clock.Now), WithSink(sink)), clock, sink
}

func sampleItem() domain.NewsItem {
	return domain.NewsItem{
		Title:       "ECB holds rates steady for third meeting",
		URL:         "https://www.reuters.com/markets/ecb?utm_source=tg",
		Source:      "Reuters",
		Category:    "economy",
		PublishedAt: time.Date(2024, time.March, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestFingerprintIgnoresCosmeticDifferences(t *testing.T) {
	t.Parallel()

	a := sampleItem()
	b := a
	b.Title = "  ecb HOLDS rates,  steady for third meeting!"
	b.URL = "http://reuters.com//markets/ecb/?fbclid=zzz"
	b.Source = " REUTERS "
	b.PublishedAt = a.PublishedAt.Add(2 * time.Hour)

	assert.Equal(t, Fingerprint(a, ""), Fingerprint(b, DefaultKeyFormat))
	assert.Len(t, Fingerprint(a, ""), 64)

	c := a
	c.PublishedAt = a.PublishedAt.Add(24 * time.Hour)
	assert.NotEqual(t, Fingerprint(a, ""), Fingerprint(c, ""))
}

func TestFingerprintHonoursKeyFormat(t *testing.T) {
	t.Parallel()

	a := sampleItem()
	b := a
	b.URL = "https://other.example/path"
	assert.Equal(t, Fingerprint(a, "{title}#{date}"), Fingerprint(b, "{title}#{date}"))
	assert.NotEqual(t, Fingerprint(a, ""), Fingerprint(b, ""))
}

func TestGetAfterSet(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCache(t, config.CacheConfig{MaxSize: 10, TTLDays: 7})
	item := sampleItem()

	_, ok := c.Get(item)
	require.False(t, ok)

	c.Set(item, 0.8, 0.9, "summary", "gpt")
	got, ok := c.Get(item)
	require.True(t, ok)
	assert.Equal(t, 0.8, got.Importance)
	assert.Equal(t, 0.9, got.Credibility)
	assert.Equal(t, "summary", got.Summary)
	assert.True(t, got.ExpiresAt.After(got.CreatedAt))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestPeekLeavesCountersAlone(t *testing.T) {
	t.Parallel()

	c, clock, _ := newTestCache(t, config.CacheConfig{MaxSize: 10, TTLSeconds: 60})
	item := sampleItem()
	fp := c.Fingerprint(item)

	_, ok := c.Peek(fp)
	require.False(t, ok)

	c.Set(item, 0.7, 0.6, "", "gpt")
	got, ok := c.Peek(fp)
	require.True(t, ok)
	assert.Equal(t, 0.7, got.Importance)

	clock.Advance(61 * time.Second)
	_, ok = c.Peek(fp)
	assert.False(t, ok)

	stats := c.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.Expired)
}

func TestSetClampsScores(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCache(t, config.CacheConfig{MaxSize: 10, TTLDays: 7})
	entry := c.Set(sampleItem(), 1.7, -0.2, "", "gpt")
	assert.Equal(t, 1.0, entry.Importance)
	assert.Equal(t, 0.0, entry.Credibility)
}

func TestExpiredEntryIsRemovedOnRead(t *testing.T) {
	t.Parallel()

	c, clock, _ := newTestCache(t, config.CacheConfig{MaxSize: 10, TTLSeconds: 60})
	item := sampleItem()
	c.Set(item, 0.5, 0.5, "", "gpt")

	clock.Advance(61 * time.Second)
	_, ok := c.Get(item)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(1), c.Stats().Expired)
}

func TestTTLDisabledNeverExpires(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Now()}
	c := New(config.CacheConfig{MaxSize: 10, TTLSeconds: 1, PartialUpdate: true}, false, logging.Discard(), WithClock(clock.Now))
	item := sampleItem()
	entry := c.Set(item, 0.5, 0.5, "", "gpt")

	clock.Advance(time.Hour)
	_, ok := c.Get(item)
	assert.True(t, ok)
	assert.False(t, c.NeedsRefresh(entry))
}

func TestFIFOEviction(t *testing.T) {
	t.Parallel()

	c, _, sink := newTestCache(t, config.CacheConfig{MaxSize: 2, TTLDays: 1})
	items := []domain.NewsItem{sampleItem(), sampleItem(), sampleItem()}
	items[1].Title = "Second headline about markets today"
	items[2].Title = "Third headline about markets today"

	for _, it := range items {
		c.Set(it, 0.6, 0.6, "", "gpt")
	}

	_, ok := c.Get(items[0])
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get(items[1])
	assert.True(t, ok)
	_, ok = c.Get(items[2])
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
	assert.Equal(t, 2.0, sink.Gauge(metrics.CacheSize))
}

func TestNeedsRefreshAndUpdatePartial(t *testing.T) {
	t.Parallel()

	c, clock, _ := newTestCache(t, config.CacheConfig{MaxSize: 10, TTLDays: 3, PartialUpdate: true})
	item := sampleItem()
	entry := c.Set(item, 0.7, 0.4, "s", "gpt")
	assert.False(t, c.NeedsRefresh(entry))

	clock.Advance(60 * time.Hour)
	entry, ok := c.Get(item)
	require.True(t, ok)
	assert.True(t, c.NeedsRefresh(entry))

	cred := 0.85
	updated, ok := c.UpdatePartial(item, Partial{Credibility: &cred})
	require.True(t, ok)
	assert.Equal(t, 0.7, updated.Importance)
	assert.Equal(t, 0.85, updated.Credibility)
	assert.Equal(t, "s", updated.Summary)
	assert.Equal(t, clock.Now().Add(72*time.Hour), updated.ExpiresAt)
	assert.False(t, c.NeedsRefresh(updated))

	_, ok = c.UpdatePartial(domain.NewsItem{Title: "missing"}, Partial{Credibility: &cred})
	assert.False(t, ok)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	src, _, _ := newTestCache(t, config.CacheConfig{MaxSize: 10, TTLDays: 7})
	item := sampleItem()
	src.Set(item, 0.8, 0.9, "kept", "gpt")

	var buf bytes.Buffer
	n, err := src.Snapshot(&buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	dst, _, _ := newTestCache(t, config.CacheConfig{MaxSize: 10, TTLDays: 7})
	restored, err := dst.Restore(&buf)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	got, ok := dst.Get(item)
	require.True(t, ok)
	assert.Equal(t, "kept", got.Summary)
	assert.Equal(t, 0.9, got.Credibility)
}

func TestRestoreSkipsMalformedAndExpiredLines(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCache(t, config.CacheConfig{MaxSize: 10, TTLDays: 7})
	input := strings.Join([]string{
		`not json`,
		`{"fingerprint":"old","importance":0.5,"credibility":0.5,"created_at":"2020-01-01T00:00:00Z","expires_at":"2020-01-08T00:00:00Z"}`,
		`{"fingerprint":"live","importance":0.5,"credibility":0.5,"created_at":"2024-03-01T00:00:00Z","expires_at":"2024-03-05T00:00:00Z"}`,
	}, "\n")

	restored, err := c.Restore(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	_, ok := c.Lookup("live")
	assert.True(t, ok)
}

func TestUnparseableTimestampIsNotAMiss(t *testing.T) {
	t.Parallel()

	c, clock, sink := newTestCache(t, config.CacheConfig{MaxSize: 10, TTLDays: 1, PartialUpdate: true})
	input := `{"fingerprint":"odd","importance":0.6,"credibility":0.7,"created_at":"yesterday","expires_at":"soon"}`
	_, err := c.Restore(strings.NewReader(input))
	require.NoError(t, err)

	clock.Advance(30 * 24 * time.Hour)
	entry, ok := c.Lookup("odd")
	require.True(t, ok, "parse anomalies must not become misses")
	assert.Equal(t, 0.7, entry.Credibility)
	assert.False(t, c.NeedsRefresh(entry))
	assert.Equal(t, int64(1), c.Stats().ParseAnomalies)
	assert.Equal(t, 1.0, sink.Counter(metrics.CacheParseAnomaly))
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestCache(t, config.CacheConfig{MaxSize: 50, TTLDays: 1, PartialUpdate: true})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := sampleItem()
			item.Title = strings.Repeat("x", i+1) + " headline with enough words"
			c.Set(item, 0.5, 0.5, "", "gpt")
			c.Get(item)
			v := 0.9
			c.UpdatePartial(item, Partial{Importance: &v})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, c.Len())
}
