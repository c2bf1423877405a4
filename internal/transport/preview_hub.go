package transport

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dvlop/opendiamond/internal/odisk"
	"github.com/dvlop/opendiamond/internal/search"
)

// PreviewEvent is one partial-evaluation update streamed to a connected
// preview client: which filter an object just finished and whether it
// passed, well before the object (if it survives the whole chain) reaches
// the complete data channel.
type PreviewEvent struct {
	Oid       uint64    `json:"oid"`
	Filter    string    `json:"filter"`
	Pass      bool      `json:"pass"`
	Timestamp time.Time `json:"timestamp"`
}

// PreviewHub fans a search's per-filter progress out to any number of
// websocket clients, for a live view of evaluation in progress
// (spec.md 6.2's partial-vs-complete distinction).
type PreviewHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan PreviewEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewPreviewHub builds an idle hub; call Run in its own goroutine and
// Attach to wire it to a search.Context's evaluator progress.
func NewPreviewHub() *PreviewHub {
	return &PreviewHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan PreviewEvent, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Attach installs this hub as ctx's PreviewFn, so every filter step any
// evaluator completes is broadcast to connected clients.
func (h *PreviewHub) Attach(ctx *search.Context) {
	ctx.PreviewFn = func(oid odisk.OID, filterName string, pass bool) {
		h.Broadcast(PreviewEvent{Oid: uint64(oid), Filter: filterName, Pass: pass})
	}
}

// Run drives the hub's client registry and fan-out loop; it blocks, so
// callers should run it in its own goroutine.
func (h *PreviewHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			slog.Debug("transport: preview client connected", "total", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mu.Unlock()
			slog.Debug("transport: preview client disconnected", "total", len(h.clients))

		case event := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if err := client.WriteJSON(event); err != nil {
					slog.Warn("transport: preview write error", "error", err)
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWebSocket upgrades an HTTP request to a websocket connection and
// registers it as a preview client.
func (h *PreviewHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("transport: websocket upgrade failed", "error", err)
		return
	}

	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends event to every connected preview client.
func (h *PreviewHub) Broadcast(event PreviewEvent) {
	event.Timestamp = time.Now()
	h.broadcast <- event
}
