package livereload

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"devserve/internal/domain"
)

// Path is where browsers subscribe to reload events.
const Path = "/__livereload"

// Hub fans reload events out to connected Server-Sent Events streams.
type Hub struct {
	mu      sync.Mutex
	clients map[string]chan struct{}
	closed  bool
	done    chan struct{}

	logger  domain.Logger
	onCount func(n int)
}

// NewHub creates a hub. onCount, if set, is called with the number of
// connected clients whenever it changes.
func NewHub(logger domain.Logger, onCount func(n int)) *Hub {
	return &Hub{
		clients: make(map[string]chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
		onCount: onCount,
	}
}

// ServeHTTP holds an event stream open until the client leaves or the hub
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, ch, ok := h.subscribe()
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()
	h.logger.Debug("live reload client connected", "client", id)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case <-ch:
			if _, err := fmt.Fprintf(w, "event: reload\ndata: %d\n\n", time.Now().UnixMilli()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Hub) subscribe() (string, chan struct{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", nil, false
	}
	id := uuid.NewString()
	ch := make(chan struct{}, 1)
	h.clients[id] = ch
	h.notifyCountLocked()
	return id, ch, true
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[id]; !ok {
		return
	}
	delete(h.clients, id)
	h.notifyCountLocked()
	h.logger.Debug("live reload client disconnected", "client", id)
}

func (h *Hub) notifyCountLocked() {
	if h.onCount != nil {
		h.onCount(len(h.clients))
	}
}

// Broadcast queues a reload event for every client and returns how many
// clients were notified. A client that has not consumed its previous event
// keeps a single pending one.
func (h *Hub) Broadcast() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return len(h.clients)
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close ends every open stream and refuses new ones. Safe to call twice.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}
