package httpapi

import (
	"sync"

	"NewsDesk/internal/reactor"
)

const clientBuffer = 64

// Hub fans reactor events out to connected SSE clients. Slow clients drop
// events instead of blocking the emitter.
type Hub struct {
	mu      sync.Mutex
	clients map[chan reactor.Event]struct{}
	closed  bool
	dropped int64
}

var _ reactor.Streamer = (*Hub)(nil)

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[chan reactor.Event]struct{})}
}

// Subscribe registers a client. The returned cancel func unregisters it and
// closes the channel.
func (h *Hub) Subscribe() (<-chan reactor.Event, func()) {
	ch := make(chan reactor.Event, clientBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

// Broadcast implements reactor.Streamer.
func (h *Hub) Broadcast(ev reactor.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
}

// Clients is the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped counts events not delivered to slow clients.
func (h *Hub) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close disconnects every client. Later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}
