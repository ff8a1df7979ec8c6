package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamframe/streamframe/internal/blocks"
	"github.com/streamframe/streamframe/internal/stream"
	"github.com/streamframe/streamframe/internal/throttle"
)

type postedMessage struct {
	Channel string
	ID      string
	Text    string
	Deleted bool
}

// stubTransport records deliveries in memory.
type stubTransport struct {
	mu       sync.Mutex
	nextID   int
	messages map[string]*postedMessage
}

func newStubTransport() *stubTransport {
	return &stubTransport{messages: make(map[string]*postedMessage)}
}

func (t *stubTransport) PostMessage(ctx context.Context, channel string, chunk blocks.Chunk) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := fmt.Sprintf("msg-%d", t.nextID)
	t.messages[id] = &postedMessage{Channel: channel, ID: id, Text: chunk.Fallback()}
	return id, nil
}

func (t *stubTransport) UpdateMessage(ctx context.Context, channel, messageID string, chunk blocks.Chunk) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg, ok := t.messages[messageID]
	if !ok {
		t.messages[messageID] = &postedMessage{Channel: channel, ID: messageID, Text: chunk.Fallback()}
		return nil
	}
	msg.Text = chunk.Fallback()
	return nil
}

func (t *stubTransport) DeleteMessage(ctx context.Context, channel, messageID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if msg, ok := t.messages[messageID]; ok {
		msg.Deleted = true
	}
	return nil
}

func (t *stubTransport) snapshot() []postedMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]postedMessage, 0, len(t.messages))
	for _, msg := range t.messages {
		out = append(out, *msg)
	}
	return out
}

func newTestServer(t *testing.T) (*httptest.Server, *stubTransport) {
	t.Helper()

	transport := newStubTransport()
	sched := throttle.New(transport, throttle.Config{MinDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx)

	router := NewRouter(RouterConfig{
		Scheduler:  sched,
		StreamOpts: []StreamOption{stream.WithThrottleTime(time.Millisecond)},
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, transport
}

func createStream(t *testing.T, server *httptest.Server, body string) CreateStreamResponse {
	t.Helper()
	resp, err := http.Post(server.URL+"/api/streams", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created CreateStreamResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	return created
}

func TestCreateStream(t *testing.T) {
	server, _ := newTestServer(t)

	created := createStream(t, server, `{"channel":"C-ALPHA"}`)
	require.True(t, strings.HasPrefix(created.ID, "strm_"))
	require.Equal(t, "reply", created.Kind)

	wrapped := createStream(t, server, `{"channel":"C-ALPHA","message_id":"1700000000.000100"}`)
	require.Equal(t, "message", wrapped.Kind)
	require.NotEqual(t, created.ID, wrapped.ID)
}

func TestCreateStreamRequiresChannel(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/streams", "application/json", strings.NewReader(`{"channel":"  "}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPushBlocksAndFinish(t *testing.T) {
	server, transport := newTestServer(t)

	created := createStream(t, server, `{"channel":"C-ALPHA"}`)

	payload := `[{"type":"section","text":{"type":"mrkdwn","text":"Hello"}}]`
	resp, err := http.Post(server.URL+"/api/streams/"+created.ID+"/blocks", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(server.URL+"/api/streams/"+created.ID+"/finish", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	messages := transport.snapshot()
	require.Len(t, messages, 1)
	require.Equal(t, "C-ALPHA", messages[0].Channel)
	require.Equal(t, "Hello", messages[0].Text)
	require.False(t, messages[0].Deleted)

	// The stream id is retired after finish.
	resp, err = http.Post(server.URL+"/api/streams/"+created.ID+"/finish", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPushBlocksRejectsBadPayloads(t *testing.T) {
	server, _ := newTestServer(t)

	created := createStream(t, server, `{"channel":"C-ALPHA"}`)

	for _, body := range []string{
		`{"not":"an array"}`,
		`[{"type":"teleport"}]`,
		`[{"type":"section"}]`,
	} {
		resp, err := http.Post(server.URL+"/api/streams/"+created.ID+"/blocks", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "payload %s", body)
	}
}

func TestPushBlocksUnknownStream(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/streams/strm_missing/blocks", "application/json", strings.NewReader(`[]`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAbandonStream(t *testing.T) {
	server, transport := newTestServer(t)

	created := createStream(t, server, `{"channel":"C-ALPHA"}`)

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/api/streams/"+created.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.Empty(t, transport.snapshot())

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(t, "ok", health.Status)
}

func TestDeliveriesRequiresChannel(t *testing.T) {
	server, _ := newTestServer(t)

	// The deliveries route is only mounted when a store is configured.
	resp, err := http.Get(server.URL + "/api/deliveries")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "streamframe_")
}
