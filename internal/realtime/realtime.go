// Package realtime pushes pipeline events to connected dashboard clients
// over websockets. Delivery is company-scoped: a connection authenticated
// for company N receives only events naming company N (admins receive
// everything).
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stockhaul/stockhaul/internal/events"
	"github.com/stockhaul/stockhaul/internal/identity"
	"github.com/stockhaul/stockhaul/internal/logging"
	"github.com/stockhaul/stockhaul/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	sendBuffer = 64
)

// Hub tracks connected clients and fans events out to them. Implements
// events.Sink.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

// Client is one websocket connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	identity identity.Identity
	send     chan []byte
}

// Deliver implements events.Sink. A client with a full send buffer is
// disconnected rather than allowed to stall the fan-out.
func (h *Hub) Deliver(ctx context.Context, event events.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		logging.L(ctx).Error("failed to encode realtime event", "eventType", event.Type, "error", err)
		return
	}

	h.mu.RLock()
	var stalled []*Client
	for client := range h.clients {
		if !client.wants(event) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			stalled = append(stalled, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stalled {
		h.remove(client)
	}
}

func (c *Client) wants(event events.Event) bool {
	if c.identity.IsAdmin() {
		return true
	}
	for _, companyID := range event.CompanyIDs {
		if c.identity.CompanyID == companyID {
			return true
		}
	}
	return false
}

// Register adds a connection and starts its pumps.
func (h *Hub) Register(conn *websocket.Conn, id identity.Identity) {
	client := &Client{
		hub:      h,
		conn:     conn,
		identity: id,
		send:     make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(count))

	go client.writePump()
	go client.readPump()
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, present := h.clients[client]
	if present {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(count))

	if present {
		client.conn.Close()
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()
	for _, client := range clients {
		h.remove(client)
	}
}

// readPump consumes (and discards) inbound frames so pongs and close frames
// are processed.
func (c *Client) readPump() {
	defer c.hub.remove(c)
	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
