// Package schedule maps the time of day onto posting windows and the
// categories each window allows.
package schedule

import (
	"container/list"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/features"
	"NewsDesk/internal/metrics"
)

const (
	minRecent  = 50
	wildcard   = "all"
	noneWindow = "none"
)

// Scheduler filters digests by the current window and by recent posts.
type Scheduler struct {
	windows  []domain.TimeWindow
	adaptive bool
	loc      *time.Location
	sink     *metrics.Sink
	logger   *slog.Logger

	mu       sync.Mutex
	capacity int
	order    *list.List
	recent   map[string]*list.Element
}

// New builds the scheduler from autopublish_schedule.
func New(cfg config.Config, sink *metrics.Sink, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	capacity := cfg.SmartPosting.RecentCapacity
	if capacity < minRecent {
		capacity = minRecent
	}
	return &Scheduler{
		windows:  Windows(cfg.AutopublishSchedule),
		adaptive: cfg.AdaptiveScheduleEnabled(),
		loc:      cfg.Scheduler.Location(),
		sink:     sink,
		logger:   logger.With("component", "scheduler"),
		capacity: capacity,
		order:    list.New(),
		recent:   make(map[string]*list.Element),
	}
}

// Windows converts configured windows into a list ordered by start hour.
func Windows(raw map[string]config.WindowConfig) []domain.TimeWindow {
	out := make([]domain.TimeWindow, 0, len(raw))
	for name, w := range raw {
		cats := make([]string, 0, len(w.Categories))
		for _, c := range w.Categories {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
				cats = append(cats, c)
			}
		}
		out = append(out, domain.TimeWindow{
			Name:       name,
			StartHour:  ((w.StartHour % 24) + 24) % 24,
			EndHour:    ((w.EndHour % 24) + 24) % 24,
			Categories: cats,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartHour != out[j].StartHour {
			return out[i].StartHour < out[j].StartHour
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Windows returns the configured windows.
func (s *Scheduler) Windows() []domain.TimeWindow {
	return append([]domain.TimeWindow(nil), s.windows...)
}

// CurrentWindow returns the first window containing now's hour in the
// scheduler timezone.
func (s *Scheduler) CurrentWindow(now time.Time) (domain.TimeWindow, bool) {
	hour := now.In(s.loc).Hour()
	for _, w := range s.windows {
		if w.Contains(hour) {
			return w, true
		}
	}
	return domain.TimeWindow{}, false
}

// Allowed reports whether category may be posted at now. With the adaptive
// schedule off every category is allowed; outside every window none is.
func (s *Scheduler) Allowed(category string, now time.Time) bool {
	if !s.adaptive {
		return true
	}
	w, ok := s.CurrentWindow(now)
	if !ok {
		return false
	}
	category = features.CanonicalCategory(category)
	for _, c := range w.Categories {
		if c == wildcard || c == category {
			return true
		}
	}
	return false
}

// Filter keeps digests allowed in the current window and not recently
// published. Input order is preserved.
func (s *Scheduler) Filter(digests []domain.Digest, now time.Time) []domain.Digest {
	out := make([]domain.Digest, 0, len(digests))
	for _, d := range digests {
		if s.RecentlyPublished(d.ID) {
			continue
		}
		if !s.Allowed(d.Category, now) {
			continue
		}
		out = append(out, d)
	}
	s.logger.Debug("window filter", "window", s.windowName(now), "in", len(digests), "out", len(out))
	return out
}

// MarkPublished records id in the recent FIFO and bumps the per-window
// counter.
func (s *Scheduler) MarkPublished(id string, now time.Time) {
	s.mu.Lock()
	if _, ok := s.recent[id]; !ok {
		s.recent[id] = s.order.PushBack(id)
		for s.order.Len() > s.capacity {
			oldest := s.order.Front()
			s.order.Remove(oldest)
			delete(s.recent, oldest.Value.(string))
		}
	}
	s.mu.Unlock()

	s.sink.Inc(metrics.WindowPublishedPrefix + s.windowName(now))
}

// RecentlyPublished reports whether id is in the recent FIFO.
func (s *Scheduler) RecentlyPublished(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.recent[id]
	return ok
}

// Recent returns the FIFO contents, oldest first.
func (s *Scheduler) Recent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, s.order.Len())
	for e := s.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}

func (s *Scheduler) windowName(now time.Time) string {
	if w, ok := s.CurrentWindow(now); ok {
		return w.Name
	}
	return noneWindow
}
