package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/streamframe/streamframe/internal/blocks"
	"github.com/streamframe/streamframe/internal/stream"
	"github.com/streamframe/streamframe/internal/throttle"
)

// StreamOption configures every stream the handler opens.
type StreamOption = stream.Option

type CreateStreamRequest struct {
	Channel   string `json:"channel"`
	MessageID string `json:"message_id,omitempty"`
}

type CreateStreamResponse struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// StreamHandler owns the set of open streams. Each stream is identified by
// an opaque id handed back on create and lives until finish or abandon.
type StreamHandler struct {
	sched *throttle.Scheduler
	opts  []StreamOption

	mu      sync.Mutex
	streams map[string]*openStream
}

type openStream struct {
	stream *stream.Stream
	kind   string
}

func NewStreamHandler(sched *throttle.Scheduler, opts ...StreamOption) *StreamHandler {
	return &StreamHandler{
		sched:   sched,
		opts:    opts,
		streams: make(map[string]*openStream),
	}
}

// Create handles POST /api/streams.
func (h *StreamHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	channel := strings.TrimSpace(req.Channel)
	if channel == "" {
		sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "channel is required"})
		return
	}

	id, err := newStreamID()
	if err != nil {
		sendJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "unable to allocate stream id"})
		return
	}

	entry := &openStream{kind: "reply"}
	if mid := strings.TrimSpace(req.MessageID); mid != "" {
		entry.stream = stream.NewMessage(h.sched, channel, mid, h.opts...)
		entry.kind = "message"
	} else {
		entry.stream = stream.NewReply(h.sched, channel, h.opts...)
	}

	h.mu.Lock()
	h.streams[id] = entry
	h.mu.Unlock()

	sendJSON(w, http.StatusCreated, CreateStreamResponse{ID: id, Kind: entry.kind})
}

// PushBlocks handles POST /api/streams/{id}/blocks. The body is the full
// desired block array, not a delta.
func (h *StreamHandler) PushBlocks(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.lookup(chi.URLParam(r, "id"))
	if !ok {
		sendJSON(w, http.StatusNotFound, ErrorResponse{Error: "stream not found"})
		return
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	decoded, err := blocks.Decode(raw)
	if err != nil {
		sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if err := entry.stream.Update(decoded); err != nil {
		sendJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}

	sendJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// Finish handles POST /api/streams/{id}/finish. It flushes the final state,
// waits for the scheduler to drain the stream's destinations, and closes the
// stream.
func (h *StreamHandler) Finish(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, ok := h.remove(id)
	if !ok {
		sendJSON(w, http.StatusNotFound, ErrorResponse{Error: "stream not found"})
		return
	}

	if err := entry.stream.Finish(r.Context()); err != nil {
		sendJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}

	sendJSON(w, http.StatusOK, map[string]bool{"finished": true})
}

// Abandon handles DELETE /api/streams/{id}. The stream is dropped without a
// final flush; messages already delivered stay as they are.
func (h *StreamHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.remove(chi.URLParam(r, "id")); !ok {
		sendJSON(w, http.StatusNotFound, ErrorResponse{Error: "stream not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StreamHandler) lookup(id string) (*openStream, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.streams[id]
	return entry, ok
}

func (h *StreamHandler) remove(id string) (*openStream, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.streams[id]
	if ok {
		delete(h.streams, id)
	}
	return entry, ok
}

func newStreamID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate stream id: %w", err)
	}
	return "strm_" + hex.EncodeToString(buf), nil
}
