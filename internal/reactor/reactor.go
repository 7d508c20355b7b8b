// Package reactor is the in-process event bus that decouples pipeline stages
// from their side-effect consumers.
package reactor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"NewsDesk/internal/metrics"
)

const defaultHeartbeat = 30 * time.Second

// Event is one emission.
type Event struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Handler consumes an event. Returned errors and panics are logged and never
// stop delivery to other handlers.
type Handler func(ctx context.Context, ev Event) error

// Streamer fans events out to an external transport.
type Streamer interface {
	Broadcast(ev Event)
}

// Stats is a snapshot of bus activity.
type Stats struct {
	Running       bool             `json:"running"`
	Events        map[string]int64 `json:"events"`
	HandlerErrors int64            `json:"handler_errors"`
	Subscribers   map[string]int   `json:"subscribers"`
}

// Reactor delivers events to subscribers in subscription order.
type Reactor struct {
	mu    sync.RWMutex
	sync  map[string][]Handler
	async map[string][]Handler

	statsMu    sync.Mutex
	counts     map[string]int64
	handlerErr int64

	idMu    sync.Mutex
	entropy io.Reader

	logger    *slog.Logger
	eventLog  *slog.Logger
	streamer  Streamer
	sink      *metrics.Sink
	heartbeat time.Duration
	now       func() time.Time

	runMu   sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// Option customizes a Reactor.
type Option func(*Reactor)

// WithEventLog writes one structured line per emission to l.
func WithEventLog(l *slog.Logger) Option {
	return func(r *Reactor) { r.eventLog = l }
}

// WithStreamer fans emissions out to s.
func WithStreamer(s Streamer) Option {
	return func(r *Reactor) { r.streamer = s }
}

// WithSink counts emissions in a metrics sink.
func WithSink(s *metrics.Sink) Option {
	return func(r *Reactor) { r.sink = s }
}

// WithHeartbeat overrides the heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(r *Reactor) { r.heartbeat = d }
}

// New builds an idle reactor.
func New(logger *slog.Logger, opts ...Option) *Reactor {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reactor{
		sync:      make(map[string][]Handler),
		async:     make(map[string][]Handler),
		counts:    make(map[string]int64),
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		logger:    logger.With("component", "reactor"),
		heartbeat: defaultHeartbeat,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetStreamer attaches a streamer after construction.
func (r *Reactor) SetStreamer(s Streamer) {
	r.mu.Lock()
	r.streamer = s
	r.mu.Unlock()
}

// Subscribe registers a handler that runs in the emitting goroutine.
func (r *Reactor) Subscribe(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sync[name] = append(r.sync[name], h)
}

// SubscribeAsync registers a handler that runs concurrently with the other
// handlers of the same emission.
func (r *Reactor) SubscribeAsync(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.async[name] = append(r.async[name], h)
}

// Emit delivers an event to every handler and returns once all of them have
// finished. Synchronous handlers run in subscription order.
func (r *Reactor) Emit(ctx context.Context, name, source string, payload map[string]any) Event {
	ev := Event{
		ID:        r.newID(),
		Name:      name,
		Source:    source,
		Timestamp: r.now().UTC(),
		Payload:   payload,
	}

	r.mu.RLock()
	syncHandlers := append([]Handler(nil), r.sync[name]...)
	asyncHandlers := append([]Handler(nil), r.async[name]...)
	streamer := r.streamer
	r.mu.RUnlock()

	r.record(ev)

	var wg sync.WaitGroup
	for _, h := range asyncHandlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			r.invoke(ctx, h, ev)
		}(h)
	}
	for _, h := range syncHandlers {
		r.invoke(ctx, h, ev)
	}
	wg.Wait()

	if streamer != nil {
		streamer.Broadcast(ev)
	}
	return ev
}

// EmitAsync delivers in the background. Stop waits for pending deliveries.
func (r *Reactor) EmitAsync(ctx context.Context, name, source string, payload map[string]any) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Emit(context.WithoutCancel(ctx), name, source, payload)
	}()
}

// Start launches the heartbeat loop. It is a no-op when already running.
func (r *Reactor) Start(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Emit(ctx, Heartbeat, "reactor", map[string]any{"uptime_events": r.total()})
			}
		}
	}()
	r.logger.Info("reactor started", "heartbeat", r.heartbeat)
}

// Stop cancels the heartbeat and waits for background deliveries.
func (r *Reactor) Stop() {
	r.runMu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.running = false
	r.runMu.Unlock()

	r.wg.Wait()
	r.logger.Info("reactor stopped")
}

// Stats returns per-event counters and subscriber counts.
func (r *Reactor) Stats() Stats {
	r.runMu.Lock()
	running := r.running
	r.runMu.Unlock()

	r.statsMu.Lock()
	events := make(map[string]int64, len(r.counts))
	for k, v := range r.counts {
		events[k] = v
	}
	handlerErr := r.handlerErr
	r.statsMu.Unlock()

	r.mu.RLock()
	subs := make(map[string]int)
	for k, v := range r.sync {
		subs[k] += len(v)
	}
	for k, v := range r.async {
		subs[k] += len(v)
	}
	r.mu.RUnlock()

	return Stats{Running: running, Events: events, HandlerErrors: handlerErr, Subscribers: subs}
}

func (r *Reactor) invoke(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.handlerFailed(ev, fmt.Errorf("panic: %v", rec))
		}
	}()
	if err := h(ctx, ev); err != nil {
		r.handlerFailed(ev, err)
	}
}

func (r *Reactor) handlerFailed(ev Event, err error) {
	r.statsMu.Lock()
	r.handlerErr++
	r.statsMu.Unlock()
	r.sink.Inc(metrics.ReactorHandlerErrors)
	r.logger.Error("event handler failed", "event", ev.Name, "id", ev.ID, "error", err)
}

func (r *Reactor) record(ev Event) {
	r.statsMu.Lock()
	r.counts[ev.Name]++
	r.statsMu.Unlock()
	r.sink.Inc(metrics.ReactorEvents)
	if r.eventLog != nil {
		r.eventLog.Info(ev.Name, "id", ev.ID, "source", ev.Source, "payload", ev.Payload)
	}
}

func (r *Reactor) total() int64 {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	var n int64
	for _, v := range r.counts {
		n += v
	}
	return n
}

func (r *Reactor) newID() string {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(r.now()), r.entropy).String()
}
