package ws

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub fans queue health reports out to connected dashboard clients.
type Hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

// AddClient registers a dashboard connection and watches it for disconnect.
// The read loop discards inbound frames; clients only listen.
func (h *Hub) AddClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.clientsMu.Unlock()

	log.Printf("[WS] client connected, total=%d", total)

	go func() {
		defer func() {
			h.clientsMu.Lock()
			delete(h.clients, conn)
			total := len(h.clients)
			h.clientsMu.Unlock()
			conn.Close()
			log.Printf("[WS] client disconnected, total=%d", total)
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends one JSON payload to every connected client. Clients whose
// write fails are dropped.
func (h *Hub) Broadcast(v any) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteJSON(v); err != nil {
			log.Printf("[WS] dropping client after write error: %v", err)
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}
