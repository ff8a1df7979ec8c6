package store

import (
	"context"
	"log"

	"github.com/streamframe/streamframe/internal/throttle"
)

// NewDeliveryRecorder persists scheduler delivery events to the delivery
// log. Insert failures are logged and dropped; recording never blocks a
// call.
func NewDeliveryRecorder(s *DeliveryLogStore) throttle.Recorder {
	return throttle.RecorderFunc(func(ctx context.Context, ev throttle.Event) {
		err := s.Insert(ctx, InsertDeliveryInput{
			Channel:   ev.Channel,
			MessageID: ev.MessageID,
			Op:        ev.Op,
			Outcome:   ev.Outcome,
			ErrorKind: ev.ErrorKind,
			Attempts:  ev.Attempts,
			Latency:   ev.Latency,
			At:        ev.At,
		})
		if err != nil {
			log.Printf("delivery log insert failed: %v", err)
		}
	})
}
