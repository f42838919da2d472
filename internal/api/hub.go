package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/futures-feed/internal/observ"
	"github.com/Rajchodisetti/futures-feed/internal/refresh"
)

// Envelope wraps every streamed event with metadata for ordering and resume.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"` // quote, active, ...
	ID      string          `json:"id"`   // monotonic, for Last-Event-ID resume
	TS      time.Time       `json:"ts_utc"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans published events out to stream clients. Each client has a
// bounded queue; a slow client loses events rather than stalling others.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]chan Envelope
	history   []Envelope
	limit     int
	seq       uint64
	clientBuf int
	now       func() time.Time
}

// NewHub creates a hub that keeps the last limit events for resume.
func NewHub(limit int) *Hub {
	if limit <= 0 {
		limit = 500
	}
	return &Hub{
		clients:   make(map[string]chan Envelope),
		history:   make([]Envelope, 0, limit),
		limit:     limit,
		clientBuf: 100,
		now:       time.Now,
	}
}

// Publish stamps v as the next event of type typ and broadcasts it.
func (h *Hub) Publish(typ string, v any) (Envelope, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s event: %w", typ, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	env := Envelope{V: 1, Type: typ, ID: strconv.FormatUint(h.seq, 10), TS: h.now().UTC(), Payload: payload}
	h.history = append(h.history, env)
	if len(h.history) > h.limit {
		h.history = h.history[len(h.history)-h.limit:]
	}
	for id, ch := range h.clients {
		select {
		case ch <- env:
		default:
			observ.IncCounter("stream_events_dropped_total", nil)
			observ.Debug("stream_client_slow", map[string]any{"client_id": id, "event_id": env.ID})
		}
	}
	observ.IncCounter("stream_events_total", map[string]string{"type": typ})
	return env, nil
}

// Run publishes scheduler updates until ctx is done or updates closes.
func (h *Hub) Run(ctx context.Context, updates <-chan refresh.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if _, err := h.Publish("quote", u); err != nil {
				observ.Warn("stream_publish_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// subscribe registers a client. The backlog holds the retained events after
// lastID; registration and backlog are taken under one lock so nothing is
// missed or repeated between them.
func (h *Hub) subscribe(lastID string) (id string, ch <-chan Envelope, backlog []Envelope, cancel func()) {
	id = uuid.NewString()
	c := make(chan Envelope, h.clientBuf)

	h.mu.Lock()
	if lastID != "" {
		for i, e := range h.history {
			if e.ID == lastID {
				backlog = append(backlog, h.history[i+1:]...)
				break
			}
		}
	}
	h.clients[id] = c
	n := len(h.clients)
	h.mu.Unlock()

	observ.SetGauge("stream_clients", float64(n), nil)
	return id, c, backlog, func() {
		h.mu.Lock()
		delete(h.clients, id)
		n := len(h.clients)
		h.mu.Unlock()
		observ.SetGauge("stream_clients", float64(n), nil)
	}
}

// Clients returns the number of connected stream clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Since returns retained events after id, up to limit.
func (h *Hub) Since(id string, limit int) []Envelope {
	h.mu.RLock()
	defer h.mu.RUnlock()
	start := 0
	if id != "" {
		for i, e := range h.history {
			if e.ID == id {
				start = i + 1
				break
			}
		}
	}
	end := len(h.history)
	if limit > 0 && end-start > limit {
		end = start + limit
	}
	return append([]Envelope(nil), h.history[start:end]...)
}
