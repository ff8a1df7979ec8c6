package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/streamframe/streamframe/internal/blocks"
)

const (
	producerWriteWait  = 10 * time.Second
	producerPongWait   = 60 * time.Second
	producerPingPeriod = (producerPongWait * 9) / 10
	producerMaxMessage = 1 << 20
	producerFinishWait = 2 * time.Minute
)

var producerUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeProducer handles GET /api/streams/{id}/ws. Each text frame carries
// the stream's full desired block array. A clean close finishes the stream;
// per-frame errors come back as JSON frames without closing the socket.
func (h *StreamHandler) ServeProducer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, ok := h.lookup(id)
	if !ok {
		sendJSON(w, http.StatusNotFound, ErrorResponse{Error: "stream not found"})
		return
	}

	conn, err := producerUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("producer ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(producerMaxMessage)
	conn.SetReadDeadline(time.Now().Add(producerPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(producerPongWait))
		return nil
	})

	// gorilla connections allow one writer at a time; the ping loop and
	// error frames share this lock.
	var writeMu sync.Mutex

	done := make(chan struct{})
	defer close(done)
	go producerPings(conn, &writeMu, done)

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("producer ws read error on %s: %v", id, err)
				return
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var raw []json.RawMessage
		if err := json.Unmarshal(payload, &raw); err != nil {
			writeProducerError(conn, &writeMu, "invalid block payload")
			continue
		}
		decoded, err := blocks.Decode(raw)
		if err != nil {
			writeProducerError(conn, &writeMu, err.Error())
			continue
		}
		if err := entry.stream.Update(decoded); err != nil {
			writeProducerError(conn, &writeMu, err.Error())
		}
	}

	// Clean close: flush and drain, then retire the stream id.
	if entry, ok := h.remove(id); ok {
		ctx, cancel := context.WithTimeout(context.Background(), producerFinishWait)
		defer cancel()
		if err := entry.stream.Finish(ctx); err != nil {
			log.Printf("stream %s finish failed: %v", id, err)
		}
	}
}

func producerPings(conn *websocket.Conn, writeMu *sync.Mutex, done <-chan struct{}) {
	ticker := time.NewTicker(producerPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(producerWriteWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeProducerError(conn *websocket.Conn, writeMu *sync.Mutex, message string) {
	payload, _ := json.Marshal(ErrorResponse{Error: message})
	writeMu.Lock()
	defer writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(producerWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Printf("producer ws write error: %v", err)
	}
}
