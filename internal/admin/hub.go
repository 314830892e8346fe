package admin

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"focusroom/internal/middleware"
	"focusroom/internal/models"
	"focusroom/internal/presence"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced at the HTTP layer
	},
}

// Hub pushes live room snapshots to connected dashboard clients. Every
// client sees the same stream, so the hub holds one shared subscription
// to the presence store instead of one per connection.
type Hub struct {
	auth  *middleware.AdminAuth
	store presence.Store

	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
	last  []byte // most recent marshaled snapshot, replayed to new connections
}

func NewHub(auth *middleware.AdminAuth, store presence.Store) *Hub {
	return &Hub{
		auth:  auth,
		store: store,
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Run consumes the live snapshot stream and fans it out until ctx is
// cancelled. A dropped subscription is re-established after a short
// pause, so a Redis restart costs the dashboard a few seconds of
// staleness rather than the connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		snaps, err := h.store.Watch(ctx)
		if err != nil {
			log.Printf("Hub: subscribing to room updates failed: %v", err)
		} else {
			for snap := range snaps {
				h.broadcast(snap)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (h *Hub) broadcast(snap presence.Snapshot) {
	msg := models.WSMessage{Type: "room_snapshot", Payload: roomPayload(snap)}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Hub: marshaling snapshot: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = data
	for conn := range h.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

// HandleWebSocket upgrades a dashboard connection. Browsers cannot set
// headers on websocket dials, so the admin token rides a query param.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" || h.auth.Verify(tokenStr) != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.register(conn)

	// Reader goroutine exists only to detect disconnects; clients never
	// send anything meaningful.
	go func() {
		defer h.unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
	if h.last != nil {
		conn.WriteMessage(websocket.TextMessage, h.last)
	}
	log.Printf("Dashboard client connected (total: %d)", len(h.conns))
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.Close()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		log.Printf("Dashboard client disconnected (total: %d)", len(h.conns))
	}
}

// ConnCount returns the number of connected dashboard clients.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
