package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamframe/streamframe/internal/throttle"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler serves the observer websocket endpoint. Observers subscribe to
// delivery events for a Slack channel via the channel query parameter; an
// empty value subscribes to every channel.
type Handler struct {
	hub *Hub
}

// NewHandler returns a websocket handler backed by the hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeEvents upgrades the request and streams delivery events.
func (h *Handler) ServeEvents(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}

	client := NewClient(h.hub, conn, channel)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// deliveryEvent is the wire shape of a broadcast delivery event.
type deliveryEvent struct {
	Channel   string `json:"channel"`
	MessageID string `json:"message_id,omitempty"`
	Op        string `json:"op"`
	Outcome   string `json:"outcome"`
	ErrorKind string `json:"error_kind,omitempty"`
	Attempts  int    `json:"attempts"`
	LatencyMS int64  `json:"latency_ms"`
	At        string `json:"at"`
}

// NewEventRecorder bridges scheduler delivery events onto the hub.
func NewEventRecorder(hub *Hub) throttle.Recorder {
	return throttle.RecorderFunc(func(ctx context.Context, ev throttle.Event) {
		payload, err := json.Marshal(deliveryEvent{
			Channel:   ev.Channel,
			MessageID: ev.MessageID,
			Op:        ev.Op,
			Outcome:   ev.Outcome,
			ErrorKind: ev.ErrorKind,
			Attempts:  ev.Attempts,
			LatencyMS: ev.Latency.Milliseconds(),
			At:        ev.At.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return
		}
		hub.Broadcast(ev.Channel, payload)
	})
}

// ReadPump drains inbound frames until the connection closes. Observers do
// not send application data; reads exist to service pongs and close frames.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws read error: %v", err)
			}
			return
		}
	}
}

// WritePump forwards queued payloads and keeps the connection alive with
// pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
