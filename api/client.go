package api

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	replyBuffer    = 16
)

var clientIDCounter atomic.Uint64

// Client owns one websocket connection. Broadcasts arrive on send, which the hub
// closes on unregister. Direct replies use replies, which only the client touches.
type Client struct {
	id      uint64
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	replies chan Message
	now     func() time.Time
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:      clientIDCounter.Add(1),
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, broadcastBuffer),
		replies: make(chan Message, replyBuffer),
		now:     time.Now,
	}
}

func (c *Client) ID() uint64 {
	return c.id
}

// Start greets the client and launches its pumps. It returns false when the hub
// is no longer running.
func (c *Client) Start() bool {
	c.reply(Message{Event: EventConnectionStatus, Data: map[string]any{
		"status":  "connected",
		"message": "Successfully connected to Flipr WebSocket server",
		"sid":     c.id,
	}})
	if !c.hub.register(c) {
		_ = c.conn.Close()
		return false
	}
	go c.writePump()
	go c.readPump()
	return true
}

func (c *Client) reply(msg Message) {
	select {
	case c.replies <- msg:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("Unexpected websocket close", zap.Uint64("client_id", c.id), zap.Error(err))
			}
			return
		}

		switch msg.Event {
		case EventPingTest:
			var received any
			if len(msg.Data) > 0 {
				_ = json.Unmarshal(msg.Data, &received)
			}
			c.reply(Message{Event: EventPongResponse, Data: map[string]any{
				"received":  received,
				"message":   "Pong response from Flipr server",
				"timestamp": float64(c.now().UnixMilli()) / 1000,
			}})
		default:
			c.hub.logger.Debug("Ignoring websocket event", zap.String("event", msg.Event))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case msg := <-c.replies:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
