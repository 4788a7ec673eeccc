package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wolftown-io/canis-server/internal/logging"
	"github.com/wolftown-io/canis-server/internal/webhooks"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 * 1024
	sendBufferSize = 64
)

// Client is a single user's or bot's WebSocket connection to a gateway.
// Outbound delivery never blocks the sender: a slow reader has its events
// dropped once its buffer fills rather than stalling the hub.
type Client struct {
	conn   *websocket.Conn
	hub    *Hub
	UserID string
	IsBot  bool

	// subscriptions tracks which channel/guild topics this connection has
	// joined, so Hub can unwind per-topic bookkeeping on disconnect.
	subscriptions map[string]struct{}

	// allowedIntents gates bot-gateway delivery: nil for user-gateway
	// clients (unfiltered), set at connect time for bots.
	allowedIntents []string

	mu           sync.Mutex
	closeOnce    sync.Once
	closed       bool
	voiceChannel string // non-empty while joined to an SFU room

	send chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, isBot bool) *Client {
	return &Client{
		conn:          conn,
		hub:           hub,
		UserID:        userID,
		IsBot:         isBot,
		subscriptions: make(map[string]struct{}),
		send:          make(chan []byte, sendBufferSize),
	}
}

// Send enqueues a server-pushed event. The buffer is small and bounded on
// purpose: a client that can't keep up with its own event stream should
// reconnect and resync rather than have the hub buffer unboundedly for it.
func (c *Client) Send(t string, payload any) {
	if c.IsBot && c.allowedIntents != nil && !webhooks.IntentPermitsEvent(c.allowedIntents, webhooks.EventType(t)) {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	env := Envelope{Op: "event", T: t, D: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "gateway: dropping event, client buffer full",
			zap.String("user_id", c.UserID), zap.String("event", t))
	}
}

func (c *Client) sendError(code, message string) {
	c.Send(EventError, errorPayload{Code: code, Message: message})
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.send)
		c.conn.Close()
	})
}

// readPump decodes client frames and hands them to the hub's router until
// the connection drops, then unregisters itself.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("bad_envelope", "malformed message")
			continue
		}
		c.hub.route(c, env)
	}
}

// writePump owns the only goroutine allowed to write to conn, per
// gorilla/websocket's single-writer requirement, and keeps the connection
// alive with periodic pings.
func (c *Client) writePump() {
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
