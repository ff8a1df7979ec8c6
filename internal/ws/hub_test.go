package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamframe/streamframe/internal/throttle"
)

func recv(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
		return nil
	}
}

func TestHubBroadcastsToMatchingChannel(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	alpha := NewClient(hub, nil, "C-ALPHA")
	beta := NewClient(hub, nil, "C-BETA")
	all := NewClient(hub, nil, "")
	hub.Register(alpha)
	hub.Register(beta)
	hub.Register(all)

	hub.Broadcast("C-ALPHA", []byte("hello"))

	require.Equal(t, []byte("hello"), recv(t, alpha.Send))
	require.Equal(t, []byte("hello"), recv(t, all.Send))

	select {
	case payload := <-beta.Send:
		t.Fatalf("unexpected payload on beta: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := NewClient(hub, nil, "C-ALPHA")
	hub.Register(client)
	hub.Unregister(client)

	select {
	case _, ok := <-client.Send:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed")
	}
}

func TestEventRecorderBroadcastsJSON(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := NewClient(hub, nil, "C-ALPHA")
	hub.Register(client)

	rec := NewEventRecorder(hub)
	rec.RecordDelivery(context.Background(), throttle.Event{
		Channel:   "C-ALPHA",
		MessageID: "1700000000.000100",
		Op:        "update",
		Outcome:   "ok",
		Attempts:  1,
		Latency:   120 * time.Millisecond,
		At:        time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
	})

	payload := recv(t, client.Send)

	var got map[string]any
	require.NoError(t, json.Unmarshal(payload, &got))
	require.Equal(t, "C-ALPHA", got["channel"])
	require.Equal(t, "1700000000.000100", got["message_id"])
	require.Equal(t, "update", got["op"])
	require.Equal(t, "ok", got["outcome"])
	require.Equal(t, float64(120), got["latency_ms"])
}
