// Package notify implements an optional, best-effort live event stream for
// the worker's drain cycles, broadcast over a websocket connection. It has
// no effect on sync correctness — a slow or absent subscriber never blocks
// a sync or queue operation.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event is one notification pushed to subscribers.
type Event struct {
	Type      string    `json:"type"`
	LibraryID int64     `json:"libraryId,omitempty"`
	Count     int       `json:"count,omitempty"`
	Time      time.Time `json:"time"`
}

// Hub fans out Events to every currently connected websocket client. The
// zero value is not usable; construct with NewHub.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub builds an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, clients: make(map[*websocket.Conn]struct{})}
}

// Publish broadcasts event to every connected client, dropping clients that
// fail to keep up rather than blocking the caller.
func (h *Hub) Publish(ctx context.Context, event Event) {
	event.Time = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("notify: encoding event failed", "error", err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)

		if err := c.Write(writeCtx, websocket.MessageText, payload); err != nil {
			cancel()
			delete(h.clients, c)

			continue
		}

		cancel()
	}
}

// ServeHTTP upgrades the request to a websocket connection and registers it
// as a subscriber until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("notify: websocket upgrade failed", "error", err.Error())
		return
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()

		c.Close(websocket.StatusNormalClosure, "")
	}()

	// Block until the client disconnects; this connection is write-only from
	// the server's side, so any inbound message or close is the end signal.
	for {
		if _, _, err := c.Read(r.Context()); err != nil {
			return
		}
	}
}
