package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Rajchodisetti/futures-feed/internal/observ"
)

const (
	wsPingInterval = 45 * time.Second
	wsReadTimeout  = 90 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// controlMsg is what a WebSocket client may send.
type controlMsg struct {
	Type    string `json:"type"` // "select"
	Symbol  string `json:"symbol,omitempty"`
	ConID   string `json:"conid,omitempty"`
	SecType string `json:"secType,omitempty"`
}

// handleSSE streams events as Server-Sent Events. A Last-Event-ID header
// (or ?last_event_id=) replays retained events after that id first.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := r.Header.Get("Last-Event-ID")
	if lastID == "" {
		lastID = r.URL.Query().Get("last_event_id")
	}
	clientID, events, backlog, cancel := s.hub.subscribe(lastID)
	defer cancel()
	observ.Log("stream_client_connected", map[string]any{"client_id": clientID, "transport": "sse", "backlog": len(backlog)})
	defer observ.Log("stream_client_disconnected", map[string]any{"client_id": clientID, "transport": "sse"})

	// Comment line so clients see the stream open before the first event.
	if _, err := fmt.Fprintf(w, ": connected %s\n\n", clientID); err != nil {
		return
	}
	flusher.Flush()

	for _, env := range backlog {
		if err := writeSSE(w, env); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ":ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case env := <-events:
			if err := writeSSE(w, env); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", env.Type, env.ID, b)
	return err
}

// handleBackfill returns retained events after since_id for gap repair.
func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	sinceID := r.URL.Query().Get("since_id")
	limit := 500
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	events := s.hub.Since(sinceID, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"events":   events,
		"since_id": sinceID,
		"count":    len(events),
	})
}

// handleWS streams the same events over a WebSocket. Clients may send
// {"type":"select","symbol":"MES"} to switch the active instrument.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		observ.Warn("stream_ws_upgrade_failed", map[string]any{"error": err.Error()})
		return
	}
	defer conn.Close()

	clientID, events, backlog, cancel := s.hub.subscribe(r.URL.Query().Get("last_event_id"))
	defer cancel()
	observ.Log("stream_client_connected", map[string]any{"client_id": clientID, "transport": "ws", "backlog": len(backlog)})
	defer observ.Log("stream_client_disconnected", map[string]any{"client_id": clientID, "transport": "ws"})

	// replies carries control acknowledgements to the single writer.
	replies := make(chan any, 8)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		write := func(v any) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			return conn.WriteJSON(v) == nil
		}
		for _, env := range backlog {
			if !write(env) {
				return
			}
		}
		for {
			select {
			case <-done:
				return
			case env := <-events:
				if !write(env) {
					return
				}
			case v := <-replies:
				if !write(v) {
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.TextMessage {
			continue
		}
		var msg controlMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		reply := s.control(r, msg)
		select {
		case replies <- reply:
		default:
		}
	}
	close(done)
	<-writerDone
}

func (s *Server) control(r *http.Request, msg controlMsg) any {
	switch strings.ToLower(msg.Type) {
	case "select":
		inst, err := s.instrumentFor(r.Context(), msg.Symbol, msg.ConID, msg.SecType)
		if err != nil {
			return map[string]any{"type": "error", "error": err.Error()}
		}
		if s.active == nil {
			return map[string]any{"type": "error", "error": "no scheduler"}
		}
		gen := s.active.Select(inst)
		return map[string]any{"type": "active", "instrument": inst, "generation": gen}
	default:
		return map[string]any{"type": "error", "error": fmt.Sprintf("unknown control %q", msg.Type)}
	}
}
