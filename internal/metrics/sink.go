package metrics

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultHistogramSize = 512

// Sink is the process-wide metrics registry. A single mutex guards every
// counter; readers may see a snapshot that is inconsistent across unrelated
// counters but each value is atomic.
type Sink struct {
	mu            sync.Mutex
	counters      map[string]float64
	gauges        map[string]float64
	histograms    map[string]*ring
	histogramSize int
	lastPublished time.Time
	startedAt     time.Time
	now           func() time.Time
}

// New builds an empty sink.
func New() *Sink {
	return &Sink{
		counters:      map[string]float64{},
		gauges:        map[string]float64{},
		histograms:    map[string]*ring{},
		histogramSize: defaultHistogramSize,
		startedAt:     time.Now(),
		now:           time.Now,
	}
}

// Inc adds one to the named counter.
func (s *Sink) Inc(name string) {
	s.Add(name, 1)
}

// Add increases the named counter by delta.
func (s *Sink) Add(name string, delta float64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.counters[name] += delta
	s.mu.Unlock()
}

// SetGauge overwrites the named gauge.
func (s *Sink) SetGauge(name string, v float64) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.gauges[name] = v
	s.mu.Unlock()
}

// Observe records a latency sample into a bounded histogram.
func (s *Sink) Observe(name string, d time.Duration) {
	if s == nil {
		return
	}
	s.mu.Lock()
	h, ok := s.histograms[name]
	if !ok {
		h = newRing(s.histogramSize)
		s.histograms[name] = h
	}
	h.add(d.Seconds())
	s.mu.Unlock()
}

// Counter returns the current value of a counter.
func (s *Sink) Counter(name string) float64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[name]
}

// Gauge returns the current value of a gauge.
func (s *Sink) Gauge(name string) float64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gauges[name]
}

// MarkPublished records the timestamp of the last successful publication.
func (s *Sink) MarkPublished(t time.Time) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if t.After(s.lastPublished) {
		s.lastPublished = t
	}
	s.mu.Unlock()
}

// LastPublishedAt returns the last publication time, zero if none.
func (s *Sink) LastPublishedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPublished
}

// HistogramSummary condenses a bounded histogram.
type HistogramSummary struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	Max   float64 `json:"max"`
}

// Snapshot is a point-in-time copy of the sink.
type Snapshot struct {
	Counters      map[string]float64          `json:"counters"`
	Gauges        map[string]float64          `json:"gauges"`
	Histograms    map[string]HistogramSummary `json:"histograms"`
	Rates         map[string]float64          `json:"rates"`
	LastPublished *time.Time                  `json:"last_published,omitempty"`
}

// Snapshot copies every value and derives rates.
func (s *Sink) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Counters:   make(map[string]float64, len(s.counters)),
		Gauges:     make(map[string]float64, len(s.gauges)),
		Histograms: make(map[string]HistogramSummary, len(s.histograms)),
		Rates:      map[string]float64{},
	}
	for k, v := range s.counters {
		snap.Counters[k] = v
	}
	for k, v := range s.gauges {
		snap.Gauges[k] = v
	}
	for k, h := range s.histograms {
		snap.Histograms[k] = h.summary()
	}
	if !s.lastPublished.IsZero() {
		t := s.lastPublished
		snap.LastPublished = &t
	}

	hits, misses := s.counters[CacheHit], s.counters[CacheMiss]
	snap.Rates["cache_hit_rate"] = ratio(hits, hits+misses)

	processed := s.counters[ItemsProcessed]
	saved := s.counters[PrefilterRejected] + hits + s.counters[PredictorSkip]
	snap.Rates["ai_calls_saved_rate"] = ratio(saved, processed)
	snap.Rates["prefilter_reject_rate"] = ratio(s.counters[PrefilterRejected], processed)
	snap.Rates["llm_error_rate"] = ratio(s.counters[LLMErrors], s.counters[LLMCalls])
	snap.Rates["uptime_seconds"] = s.now().Sub(s.startedAt).Seconds()

	return snap
}

// WindowCounters returns per-window publication counters keyed by window name.
func (s Snapshot) WindowCounters() map[string]float64 {
	out := map[string]float64{}
	for k, v := range s.Counters {
		if name, ok := strings.CutPrefix(k, WindowPublishedPrefix); ok {
			out[name] = v
		}
	}
	return out
}

func ratio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}

type ring struct {
	values []float64
	next   int
	full   bool
}

func newRing(size int) *ring {
	if size <= 0 {
		size = defaultHistogramSize
	}
	return &ring{values: make([]float64, size)}
}

func (r *ring) add(v float64) {
	r.values[r.next] = v
	r.next++
	if r.next == len(r.values) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) samples() []float64 {
	n := r.next
	if r.full {
		n = len(r.values)
	}
	out := make([]float64, n)
	copy(out, r.values[:n])
	return out
}

func (r *ring) summary() HistogramSummary {
	samples := r.samples()
	if len(samples) == 0 {
		return HistogramSummary{}
	}
	sort.Float64s(samples)
	return HistogramSummary{
		Count: len(samples),
		P50:   quantile(samples, 0.5),
		P95:   quantile(samples, 0.95),
		Max:   samples[len(samples)-1],
	}
}

func quantile(sorted []float64, q float64) float64 {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
