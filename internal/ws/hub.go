package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// BroadcastMessage packages a payload for a channel-scoped broadcast.
type BroadcastMessage struct {
	Channel string
	Payload []byte
}

// Hub manages active observer clients and channel-scoped broadcasts of
// delivery events.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan BroadcastMessage
}

// NewHub builds a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan BroadcastMessage),
	}
}

// Run starts the hub loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				if !client.wants(message.Channel) {
					continue
				}
				select {
				case client.Send <- message.Payload:
				default:
					delete(h.clients, client)
					close(client.Send)
				}
			}
		}
	}
}

// Broadcast sends a payload to every client watching the channel.
func (h *Hub) Broadcast(channel string, payload []byte) {
	h.broadcast <- BroadcastMessage{Channel: channel, Payload: payload}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

// Client represents one observer websocket connection. An empty channel
// subscription receives events for every channel.
type Client struct {
	Conn *websocket.Conn
	Hub  *Hub
	Send chan []byte

	mu      sync.RWMutex
	channel string
}

// NewClient returns a client ready for registration.
func NewClient(hub *Hub, conn *websocket.Conn, channel string) *Client {
	return &Client{
		Conn:    conn,
		Hub:     hub,
		Send:    make(chan []byte, 256),
		channel: channel,
	}
}

// Channel returns the client's channel subscription.
func (c *Client) Channel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

func (c *Client) wants(channel string) bool {
	subscribed := c.Channel()
	return subscribed == "" || subscribed == channel
}
