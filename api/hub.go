package api

import (
	"context"
	"encoding/json"
	"sync"

	"flipr_ingest/logging"
	"flipr_ingest/metrics"
	"flipr_ingest/models"
	"go.uber.org/zap"
)

// Websocket event names.
const (
	EventConnectionStatus = "connection_status"
	EventNewProperty      = "new_property"
	EventPingTest         = "ping_test"
	EventPongResponse     = "pong_response"
)

const broadcastBuffer = 256

// Message is the envelope for every websocket frame in both directions.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub fans new properties out to connected websocket clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	Register   chan *Client
	Unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	metrics *metrics.Metrics
	logger  logging.Logger
}

func NewHub(m *metrics.Metrics, logger logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		metrics:    m,
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		// Registrations first so a client that just connected sees the next broadcast.
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.Register:
			h.add(c)
			continue
		case c := <-h.Unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.Register:
			h.add(c)
		case c := <-h.Unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.ClientConnected()
	h.logger.Info("Websocket client connected", zap.Uint64("client_id", c.id), zap.Int("clients", n))
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.ClientDisconnected()
	h.logger.Info("Websocket client disconnected", zap.Uint64("client_id", c.id), zap.Int("clients", n))
}

func (h *Hub) fanOut(msg []byte) {
	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("Dropping slow websocket client", zap.Uint64("client_id", c.id))
		h.remove(c)
	}
}

func (h *Hub) closeAll() {
	close(h.done)
	h.mu.Lock()
	n := len(h.clients)
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	for range n {
		h.metrics.ClientDisconnected()
	}
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish broadcasts p as a new_property event. It never blocks: when the
// broadcast buffer is full the event is dropped.
func (h *Hub) Publish(p *models.Property) {
	msg, err := json.Marshal(Message{Event: EventNewProperty, Data: p})
	if err != nil {
		h.logger.Error("Failed to encode property event", zap.String("identifier", p.Identifier), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Broadcast buffer full, dropping event", zap.String("identifier", p.Identifier))
	}
}
