package throttle

import (
	"context"
	"time"
)

// Event describes one completed transport call outcome. Events feed the
// delivery audit log and the websocket event hub; recording is best effort
// and never blocks or fails a call.
type Event struct {
	Channel   string        `json:"channel"`
	MessageID string        `json:"message_id,omitempty"`
	Op        string        `json:"op"`
	Outcome   string        `json:"outcome"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Attempts  int           `json:"attempts"`
	Latency   time.Duration `json:"latency"`
	At        time.Time     `json:"at"`
}

// Recorder receives delivery events from the scheduler.
type Recorder interface {
	RecordDelivery(ctx context.Context, event Event)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, event Event)

func (f RecorderFunc) RecordDelivery(ctx context.Context, event Event) {
	f(ctx, event)
}

// MultiRecorder fans one event out to several recorders.
type MultiRecorder []Recorder

func (m MultiRecorder) RecordDelivery(ctx context.Context, event Event) {
	for _, recorder := range m {
		recorder.RecordDelivery(ctx, event)
	}
}
