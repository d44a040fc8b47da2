// ABOUTME: Websocket event channel gated by single-use realtime tokens
// ABOUTME: The token is redeemed before the upgrade and never accepted again

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskdeck/taskdeck/internal/auth"
)

const (
	// writeWait bounds how long a slow client can stall a write.
	writeWait = 10 * time.Second

	// pingInterval keeps idle connections alive through proxies.
	pingInterval = 30 * time.Second

	// sendBuffer is the per-client backlog before the client is dropped.
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The channel is gated by the realtime token, not by origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is one message pushed to connected clients.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// eventClient is one connected websocket. All writes go through the send
// channel so the write pump is the connection's only writer.
type eventClient struct {
	conn *websocket.Conn
	send chan Event
}

// EventHub broadcasts events to all connected websocket clients. Clients
// that cannot keep up are dropped rather than buffered without bound.
type EventHub struct {
	mu      sync.Mutex
	clients map[*eventClient]struct{}
	closed  bool
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[*eventClient]struct{})}
}

// Publish queues an event for every connected client. A client whose
// backlog is full is disconnected instead of blocking the publisher.
func (hub *EventHub) Publish(event Event) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	for client := range hub.clients {
		select {
		case client.send <- event:
		default:
			close(client.send)
			delete(hub.clients, client)
		}
	}
}

// add registers a client with the hub.
func (hub *EventHub) add(client *eventClient) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.closed {
		return false
	}
	hub.clients[client] = struct{}{}
	return true
}

// remove unregisters a client. Safe to call more than once.
func (hub *EventHub) remove(client *eventClient) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, ok := hub.clients[client]; ok {
		close(client.send)
		delete(hub.clients, client)
	}
}

// Close drops all connections and rejects new ones.
func (hub *EventHub) Close() {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.closed = true
	for client := range hub.clients {
		close(client.send)
		delete(hub.clients, client)
	}
}

// handleEvents upgrades the connection to a websocket after redeeming the
// single-use realtime token carried as a query parameter. Redemption
// happens before the upgrade completes; a redeemed token is never accepted
// again, even if this connection subsequently fails.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || !h.realtime.Redeem(token) {
		auth.WriteUnauthorized(w)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	client := &eventClient{conn: conn, send: make(chan Event, sendBuffer)}
	if !h.events.add(client) {
		conn.Close()
		return
	}
	h.logger.Debug("event channel connected", "remote", r.RemoteAddr)

	go h.writePump(client)
	go h.readPump(client)
}

// readPump drains control frames and detects disconnect. The channel is
// push-only: inbound data frames are discarded.
func (h *Handler) readPump(client *eventClient) {
	defer func() {
		h.events.remove(client)
		client.conn.Close()
	}()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the connection's single writer: it forwards queued events
// and sends periodic pings. It exits when the send channel closes.
func (h *Handler) writePump(client *eventClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
