// Package cache stores large-model verdicts keyed by item fingerprint, with
// TTL expiry on read, FIFO eviction and partial refresh.
package cache

import (
	"bufio"
	"container/list"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/metrics"
)

const timeLayout = time.RFC3339Nano

// Entry is one cached verdict.
type Entry struct {
	Fingerprint string
	Importance  float64
	Credibility float64
	Summary     string
	ModelTag    string
	CreatedAt   time.Time
	ExpiresAt   time.Time

	// Stored timestamps that fail to parse leave ExpiresAt zero and set this.
	timestampErr error
}

// HasExpiry reports whether the entry carries a usable expiry.
func (e Entry) HasExpiry() bool {
	return e.timestampErr == nil && !e.ExpiresAt.IsZero()
}

// Partial lists the dimensions refreshed by UpdatePartial; nil fields are kept.
type Partial struct {
	Importance  *float64
	Credibility *float64
	Summary     *string
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Size           int   `json:"size"`
	MaxSize        int   `json:"max_size"`
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Expired        int64 `json:"expired"`
	Evictions      int64 `json:"evictions"`
	PartialUpdates int64 `json:"partial_updates"`
	ParseAnomalies int64 `json:"parse_anomalies"`
}

type record struct {
	entry      Entry
	createdRaw string
	expiresRaw string
	elem       *list.Element
}

// Cache is a process-local fingerprint store. It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*record
	order   *list.List

	maxSize       int
	ttl           time.Duration
	ttlEnabled    bool
	partialUpdate bool
	refreshWindow time.Duration
	keyFormat     string

	stats  Stats
	now    func() time.Time
	logger *slog.Logger
	sink   *metrics.Sink
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithSink reports size and anomalies to a metrics sink.
func WithSink(sink *metrics.Sink) Option {
	return func(c *Cache) { c.sink = sink }
}

// New builds a cache from configuration.
func New(cfg config.CacheConfig, ttlEnabled bool, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		entries:       make(map[string]*record),
		order:         list.New(),
		maxSize:       cfg.MaxSize,
		ttl:           cfg.TTL(),
		ttlEnabled:    ttlEnabled,
		partialUpdate: cfg.PartialUpdate,
		refreshWindow: cfg.RefreshWindow(),
		keyFormat:     cfg.DedupKeyFormat,
		now:           time.Now,
		logger:        logger.With("component", "cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fingerprint computes the key for item with the configured key format.
func (c *Cache) Fingerprint(item domain.NewsItem) string {
	return Fingerprint(item, c.keyFormat)
}

// Get returns the entry for item iff present and not expired.
func (c *Cache) Get(item domain.NewsItem) (Entry, bool) {
	return c.Lookup(c.Fingerprint(item))
}

// Lookup is Get by fingerprint. Expired entries are removed on read.
func (c *Cache) Lookup(fp string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.entries[fp]
	if !ok {
		c.stats.Misses++
		return Entry{}, false
	}
	if rec.entry.timestampErr != nil {
		c.reportAnomaly(fp, rec.entry.timestampErr)
	} else if c.expiredLocked(rec.entry) {
		c.removeLocked(fp, rec)
		c.stats.Expired++
		c.stats.Misses++
		return Entry{}, false
	}
	c.stats.Hits++
	return rec.entry, true
}

// Peek returns the live entry for fp without touching hit or miss counters.
// Expired entries are reported absent and left for Lookup to remove.
func (c *Cache) Peek(fp string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.entries[fp]
	if !ok || (rec.entry.timestampErr == nil && c.expiredLocked(rec.entry)) {
		return Entry{}, false
	}
	return rec.entry, true
}

// Set stores a verdict for item and returns the stored entry.
func (c *Cache) Set(item domain.NewsItem, importance, credibility float64, summary, modelTag string) Entry {
	return c.Store(c.Fingerprint(item), importance, credibility, summary, modelTag)
}

// Store is Set by fingerprint.
func (c *Cache) Store(fp string, importance, credibility float64, summary, modelTag string) Entry {
	now := c.now()
	entry := Entry{
		Fingerprint: fp,
		Importance:  domain.Clamp01(importance),
		Credibility: domain.Clamp01(credibility),
		Summary:     summary,
		ModelTag:    modelTag,
		CreatedAt:   now,
	}
	if c.ttlEnabled {
		entry.ExpiresAt = now.Add(c.ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(&record{
		entry:      entry,
		createdRaw: formatTime(entry.CreatedAt),
		expiresRaw: formatTime(entry.ExpiresAt),
	})
	return entry
}

// NeedsRefresh reports whether entry is close enough to expiry to warrant a
// partial rescore. Entries with unparseable timestamps never need refresh.
func (c *Cache) NeedsRefresh(entry Entry) bool {
	if !c.ttlEnabled || !c.partialUpdate || !entry.HasExpiry() {
		return false
	}
	return entry.ExpiresAt.Sub(c.now()) < c.refreshWindow
}

// UpdatePartial overwrites only the provided fields of item's entry and
// resets its expiry. It returns false when no live entry exists.
func (c *Cache) UpdatePartial(item domain.NewsItem, p Partial) (Entry, bool) {
	return c.UpdatePartialByFingerprint(c.Fingerprint(item), p)
}

// UpdatePartialByFingerprint is UpdatePartial by fingerprint.
func (c *Cache) UpdatePartialByFingerprint(fp string, p Partial) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.entries[fp]
	if !ok {
		return Entry{}, false
	}
	if p.Importance != nil {
		rec.entry.Importance = domain.Clamp01(*p.Importance)
	}
	if p.Credibility != nil {
		rec.entry.Credibility = domain.Clamp01(*p.Credibility)
	}
	if p.Summary != nil {
		rec.entry.Summary = *p.Summary
	}
	if c.ttlEnabled {
		rec.entry.ExpiresAt = c.now().Add(c.ttl)
		rec.entry.timestampErr = nil
		rec.expiresRaw = formatTime(rec.entry.ExpiresAt)
	}
	c.stats.PartialUpdates++
	return rec.entry, true
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns activity counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.entries)
	s.MaxSize = c.maxSize
	return s
}

type snapshotLine struct {
	Fingerprint string  `json:"fingerprint"`
	Importance  float64 `json:"importance"`
	Credibility float64 `json:"credibility"`
	Summary     string  `json:"summary,omitempty"`
	ModelTag    string  `json:"model_tag,omitempty"`
	CreatedAt   string  `json:"created_at"`
	ExpiresAt   string  `json:"expires_at,omitempty"`
}

// Snapshot writes all entries as JSON lines in insertion order.
func (c *Cache) Snapshot(w io.Writer) (int, error) {
	c.mu.Lock()
	lines := make([]snapshotLine, 0, len(c.entries))
	for el := c.order.Front(); el != nil; el = el.Next() {
		rec := c.entries[el.Value.(string)]
		lines = append(lines, snapshotLine{
			Fingerprint: rec.entry.Fingerprint,
			Importance:  rec.entry.Importance,
			Credibility: rec.entry.Credibility,
			Summary:     rec.entry.Summary,
			ModelTag:    rec.entry.ModelTag,
			CreatedAt:   rec.createdRaw,
			ExpiresAt:   rec.expiresRaw,
		})
	}
	c.mu.Unlock()

	enc := json.NewEncoder(w)
	for i, line := range lines {
		if err := enc.Encode(line); err != nil {
			return i, fmt.Errorf("write cache snapshot: %w", err)
		}
	}
	return len(lines), nil
}

// Restore loads JSON lines written by Snapshot. Malformed lines and entries
// already past expiry are skipped; entries whose timestamps fail to parse are
// kept and treated as not expired.
func (c *Cache) Restore(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	c.mu.Lock()
	defer c.mu.Unlock()

	restored := 0
	for scanner.Scan() {
		var line snapshotLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil || line.Fingerprint == "" {
			continue
		}
		rec := &record{
			entry: Entry{
				Fingerprint: line.Fingerprint,
				Importance:  domain.Clamp01(line.Importance),
				Credibility: domain.Clamp01(line.Credibility),
				Summary:     line.Summary,
				ModelTag:    line.ModelTag,
			},
			createdRaw: line.CreatedAt,
			expiresRaw: line.ExpiresAt,
		}
		if t, err := parseTime(line.CreatedAt); err == nil {
			rec.entry.CreatedAt = t
		} else {
			rec.entry.timestampErr = err
		}
		if line.ExpiresAt != "" {
			if t, err := parseTime(line.ExpiresAt); err == nil {
				rec.entry.ExpiresAt = t
			} else {
				rec.entry.timestampErr = err
			}
		}
		if rec.entry.timestampErr == nil && c.expiredLocked(rec.entry) {
			continue
		}
		c.putLocked(rec)
		restored++
	}
	if err := scanner.Err(); err != nil {
		return restored, fmt.Errorf("read cache snapshot: %w", err)
	}
	return restored, nil
}

func (c *Cache) putLocked(rec *record) {
	fp := rec.entry.Fingerprint
	if old, ok := c.entries[fp]; ok {
		c.order.Remove(old.elem)
	}
	rec.elem = c.order.PushBack(fp)
	c.entries[fp] = rec

	for c.maxSize > 0 && len(c.entries) > c.maxSize {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		key := oldest.Value.(string)
		c.removeLocked(key, c.entries[key])
		c.stats.Evictions++
	}
	c.sink.SetGauge(metrics.CacheSize, float64(len(c.entries)))
}

func (c *Cache) removeLocked(fp string, rec *record) {
	if rec != nil && rec.elem != nil {
		c.order.Remove(rec.elem)
	}
	delete(c.entries, fp)
	c.sink.SetGauge(metrics.CacheSize, float64(len(c.entries)))
}

func (c *Cache) expiredLocked(e Entry) bool {
	if !c.ttlEnabled || e.ExpiresAt.IsZero() {
		return false
	}
	return c.now().After(e.ExpiresAt)
}

func (c *Cache) reportAnomaly(fp string, err error) {
	c.stats.ParseAnomalies++
	c.sink.Inc(metrics.CacheParseAnomaly)
	c.logger.Warn("cache entry timestamp unparseable, treating as live", "fingerprint", fp, "error", err)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cache timestamp %q: %w", s, err)
	}
	return t, nil
}
