// Package ws is the real-time WebSocket fan-out. The hub tracks clients
// and their channel subscriptions. Delivery is at-most-once per client:
// a client whose send buffer is full loses the message rather than
// slowing anyone else down.
package ws

import (
	"log/slog"
	"os"
	"sync"

	"github.com/rs/xid"

	"github.com/0x5487/exchange-core/marketdata"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger allows setting a custom logger
func SetLogger(l *slog.Logger) {
	logger = l
}

// Client is one connected WebSocket session.
type Client struct {
	id   string
	send chan marketdata.Message

	mu       sync.Mutex
	channels map[string]struct{}
}

// ID returns the client's instance ID.
func (c *Client) ID() string {
	return c.id
}

// Send is the client's outbound queue, drained by its write pump.
func (c *Client) Send() <-chan marketdata.Message {
	return c.send
}

func (c *Client) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

// Hub tracks clients and routes market messages to subscribers.
type Hub struct {
	sendBuffer int

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a hub; sendBuffer is the per-client outbound queue size.
func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Hub{
		sendBuffer: sendBuffer,
		clients:    make(map[*Client]struct{}),
	}
}

// Register adds a new client.
func (h *Hub) Register() *Client {
	client := &Client{
		id:       xid.New().String(),
		send:     make(chan marketdata.Message, h.sendBuffer),
		channels: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	return client
}

// Unregister removes a client and closes its send queue.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if ok {
		close(client.send)
	}
}

// Subscribe adds the client to a channel.
func (h *Hub) Subscribe(client *Client, channel string) {
	client.mu.Lock()
	client.channels[channel] = struct{}{}
	client.mu.Unlock()
}

// Unsubscribe removes the client from a channel.
func (h *Hub) Unsubscribe(client *Client, channel string) {
	client.mu.Lock()
	delete(client.channels, channel)
	client.mu.Unlock()
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast routes a message to every client subscribed to its channel.
// A full client buffer drops the message for that client only.
func (h *Hub) Broadcast(msg marketdata.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.subscribed(msg.Channel) {
			continue
		}

		select {
		case client.send <- msg:
		default:
			clientDrops.WithLabelValues(msg.Channel).Inc()
		}
	}
}
