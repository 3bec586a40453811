package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/pagekit-dev/pagekit/internal/logging"
)

// writeWait bounds how long one slow client can hold a broadcast.
const writeWait = 10 * time.Second

// ManifestEvent is pushed to clients whenever the route table changes.
type ManifestEvent struct {
	Event string `json:"event"`
}

// Hub fans route-table change events out to connected clients.
type Hub struct {
	log            logging.Logger
	originPatterns []string

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	closed  bool
}

// NewHub creates a hub accepting connections from the allowed origins,
// plus localhost for the common dev setup.
func NewHub(log logging.Logger, allowedOrigins []string) *Hub {
	patterns := []string{"localhost:*", "127.0.0.1:*"}
	patterns = append(patterns, allowedOrigins...)
	return &Hub{
		log:            log.WithComponent("events"),
		originPatterns: patterns,
		clients:        make(map[*websocket.Conn]struct{}),
	}
}

// Handle upgrades one request and parks it until the client leaves or
// the hub closes.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.Debug(r.Context(), "websocket upgrade rejected", "error", err.Error())
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	h.clients[conn] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Debug(r.Context(), "client connected", "total", total)

	// Clients only listen; the read loop just notices the close.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close(websocket.StatusNormalClosure, "")
}

// Broadcast sends one event to every connected client. Failed writes
// drop the client.
func (h *Hub) Broadcast(ctx context.Context, event ManifestEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, writeWait)
		err := conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close(websocket.StatusPolicyViolation, "write timeout")
		}
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
