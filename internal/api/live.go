package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/racelog/internal/httputil"
	"github.com/banshee-data/racelog/internal/race"
	"github.com/banshee-data/racelog/internal/sensors"
	"github.com/banshee-data/racelog/internal/session"
)

// Live event types.
const (
	EventState    = "state"
	EventPosition = "position"
	EventRound    = "round"
	EventEnded    = "ended"
	EventHistory  = "history"
)

// liveClientBuffer is how many events a stream client may lag before events
// are dropped for it.
const liveClientBuffer = 32

// LiveEvent is one message of the live stream.
type LiveEvent struct {
	Type     string                 `json:"type"`
	State    *session.State         `json:"state,omitempty"`
	Position *sensors.PositionEvent `json:"position,omitempty"`
	Summary  *race.Summary          `json:"summary,omitempty"`
}

// LiveHub is the session view behind /api/live/stream. It fans view
// notifications out to server-sent-event clients without ever blocking the
// session.
type LiveHub struct {
	mu      sync.Mutex
	clients map[string]chan LiveEvent
	closed  bool
}

var _ session.View = (*LiveHub)(nil)

// NewLiveHub creates a hub with no clients.
func NewLiveHub() *LiveHub {
	return &LiveHub{clients: make(map[string]chan LiveEvent)}
}

// Subscribe registers a client. After Close the channel is already closed.
func (h *LiveHub) Subscribe() (string, <-chan LiveEvent) {
	id := uuid.NewString()
	ch := make(chan LiveEvent, liveClientBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.clients[id] = ch
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (h *LiveHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
	}
}

// Clients returns the number of connected clients.
func (h *LiveHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *LiveHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
}

func (h *LiveHub) publish(ev LiveEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *LiveHub) OnGeneralRefresh(s session.State) {
	h.publish(LiveEvent{Type: EventState, State: &s})
}

func (h *LiveHub) OnPositionRefresh(ev sensors.PositionEvent) {
	h.publish(LiveEvent{Type: EventPosition, Position: &ev})
}

func (h *LiveHub) OnRoundBoundary() {
	h.publish(LiveEvent{Type: EventRound})
}

func (h *LiveHub) OnRaceEnded(r *race.Race) {
	s := r.Summary()
	h.publish(LiveEvent{Type: EventEnded, Summary: &s})
}

func (h *LiveHub) OnHistoryChanged() {
	h.publish(LiveEvent{Type: EventHistory})
}

// ServeHTTP streams events as "event: <type>" / "data: <json>" pairs until the
// client goes away or the hub closes.
func (h *LiveHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, events := h.Subscribe()
	defer h.Unsubscribe(id)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
