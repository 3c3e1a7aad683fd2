// Package ws bridges the cluster broadcast bus to locally-connected
// WebSocket clients. Every worker runs a hub regardless of role: the bus is
// the source of truth, so followers serve the same stream the leader does.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/callmedraxx/mevu-sub004/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds one write to a client.
	writeWait = 10 * time.Second

	// pongWait is how long a client may stay silent before it is dropped.
	pongWait = 60 * time.Second

	// pingPeriod spaces keepalive pings. Must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound control frames from clients.
	maxMessageSize = 4096

	// sendBufferSize is the per-client outgoing buffer. A client that
	// cannot drain it gets its messages dropped, never the whole hub.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one connected WebSocket peer.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

// subscribeMsg is the JSON control frame clients send to adjust their
// channel set.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// outbound pairs a frame with its source channel for routing.
type outbound struct {
	channel string
	data    []byte
}

// Hub owns the set of connected clients and forwards every bus message to
// the clients subscribed to its channel.
type Hub struct {
	bus    domain.BroadcastBus
	role   func() string
	logger *slog.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan outbound

	mu        sync.RWMutex
	clients   map[*client]bool
	startedAt time.Time
}

// NewHub creates a hub over the bus. role reports the process's election
// standing for the greeting frame; it may be nil.
func NewHub(bus domain.BroadcastBus, role func() string, logger *slog.Logger) *Hub {
	if role == nil {
		role = func() string { return "unknown" }
	}
	return &Hub{
		bus:        bus,
		role:       role,
		logger:     logger.With(slog.String("component", "ws_hub")),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan outbound, 256),
		clients:    make(map[*client]bool),
		startedAt:  time.Now().UTC(),
	}
}

// Run subscribes the hub to every bus channel and serves the client set
// until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	var unsubs []func()
	for _, ch := range domain.BroadcastChannels() {
		channel := ch
		unsubs = append(unsubs, h.bus.Subscribe(channel, func(env domain.Envelope) {
			h.forward(channel, env)
		}))
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", total))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping message for slow client",
						slog.String("channel", msg.channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forward re-encodes each envelope item as its own frame and hands it to the
// broadcast loop. It runs on the bus receive loop, so a full hub buffer
// drops the item rather than stalling bus delivery.
func (h *Hub) forward(channel string, env domain.Envelope) {
	for _, item := range env.Items() {
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		select {
		case h.broadcast <- outbound{channel: channel, data: data}:
		default:
			h.logger.Warn("hub buffer full, dropping bus message",
				slog.String("channel", channel))
		}
	}
}

// HandleWS upgrades the request and registers the client. New clients start
// subscribed to every channel; they narrow the set with control frames.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	for _, ch := range domain.BroadcastChannels() {
		c.subs[ch] = true
	}

	h.register <- c
	c.sendGreeting()

	go c.writePump()
	go c.readPump()
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// sendGreeting pushes a status frame so clients can mark the connection
// healthy before the first price flows.
func (c *client) sendGreeting() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	msg, err := json.Marshal(map[string]any{
		"type": "status",
		"payload": map[string]any{
			"role":           c.hub.role(),
			"uptime_seconds": uptime,
			"channels":       domain.BroadcastChannels(),
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// readPump consumes control frames until the connection drops.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.applySubscription(sub)
		}
	}
}

func (c *client) applySubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// isSubscribed matches the channel against the client's set, honoring a
// trailing-star prefix wildcard.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if strings.HasSuffix(sub, "*") && strings.HasPrefix(channel, sub[:len(sub)-1]) {
			return true
		}
	}
	return false
}

// writePump writes queued frames and keepalive pings until the send channel
// closes or a write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
