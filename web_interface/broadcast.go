package web_interface

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Run owns every client connection: it registers clients, fans out
// broadcasts and sends periodic dashboard updates until ctx is done
func (h *Hub) Run(ctx context.Context) {
	interval := h.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(h.done)
	defer func() {
		for client := range h.clients {
			client.Close()
			delete(h.clients, client)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case conn := <-h.register:
			if err := conn.WriteJSON(h.dashboard()); err != nil {
				h.Logger.Warning("WebSocket write error: %v", err)
				conn.Close()
				continue
			}
			h.clients[conn] = true
		case conn := <-h.unregister:
			h.drop(conn)
		case msg := <-h.broadcast:
			h.send(msg)
		case <-ticker.C:
			if len(h.clients) > 0 {
				h.send(h.dashboard())
			}
		}
	}
}

func (h *Hub) send(msg Message) {
	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := client.WriteJSON(msg); err != nil {
			h.Logger.Warning("WebSocket write error: %v", err)
			// Remove the client that caused the error
			h.drop(client)
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	if h.clients[conn] {
		delete(h.clients, conn)
	}
	conn.Close()
}
