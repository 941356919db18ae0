package web_interface

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"smartflow-perp/logging"
	"smartflow-perp/models"
)

// Hub streams bot activity to dashboard clients over WebSocket
type Hub struct {
	Logger logging.LoggerInterface
	// Snapshot builds the full dashboard state sent on connect and on
	// every periodic update
	Snapshot func() interface{}
	Interval time.Duration

	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]bool
	broadcast  chan Message
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
}

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewHub creates a new dashboard hub
func NewHub(snapshot func() interface{}, logger logging.LoggerInterface) *Hub {
	return &Hub{
		Logger:   logger,
		Snapshot: snapshot,
		Interval: 5 * time.Second,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // dashboard is served on the operator's loopback
			},
		},
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Message, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// ServeHTTP upgrades the connection and keeps it registered until the
// client goes away
func (h *Hub) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		h.Logger.Warning("WebSocket upgrade error: %v", err)
		return
	}

	select {
	case h.register <- conn:
	case <-r.Context().Done():
		conn.Close()
		return
	case <-h.done:
		conn.Close()
		return
	}

	// reads only detect disconnects; clients have nothing to send
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Publish queues a message for all clients, dropping it when the queue
// is full
func (h *Hub) Publish(msgType string, data interface{}) {
	select {
	case h.broadcast <- Message{Type: msgType, Data: data}:
	default:
		h.Logger.Warning("Broadcast channel is full, dropping %s", msgType)
	}
}

func (h *Hub) TradeOpened(sig models.TradeSignal, fill models.OrderResult) {
	h.Publish("trade_opened", struct {
		Signal models.TradeSignal `json:"signal"`
		Fill   models.OrderResult `json:"fill"`
	}{sig, fill})
}

func (h *Hub) TradeEvent(ev models.TradeEvent) { h.Publish("trade_event", ev) }
func (h *Hub) Alert(a models.Alert)            { h.Publish("alert", a) }
func (h *Hub) Equity(s models.EquitySnapshot)  { h.Publish("equity", s) }
func (h *Hub) Flow(obs models.FlowObservation) { h.Publish("flow_signal", obs) }

func (h *Hub) dashboard() Message {
	var data interface{}
	if h.Snapshot != nil {
		data = h.Snapshot()
	}
	return Message{Type: "dashboard_update", Data: data}
}
