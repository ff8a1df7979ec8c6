// Package stream is the caller-facing facade: feed it successive renderings
// of a conversation and it converges the platform's messages to the latest
// one through the splitter, reconciler, and call scheduler.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/streamframe/streamframe/internal/blocks"
	"github.com/streamframe/streamframe/internal/reconcile"
	"github.com/streamframe/streamframe/internal/throttle"
)

const (
	defaultMaxMessageLength    = 4000
	defaultMaxBlocksPerMessage = 50
	defaultThrottleTime        = 500 * time.Millisecond
)

type Option func(*Stream)

// WithMaxMessageLength caps the cumulative fallback length per message.
func WithMaxMessageLength(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.maxMessageLength = n
		}
	}
}

// WithMaxBlocksPerMessage caps the block count per message.
func WithMaxBlocksPerMessage(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.maxBlocksPerMessage = n
		}
	}
}

// WithThrottleTime sets the debounce window for Update calls.
func WithThrottleTime(d time.Duration) Option {
	return func(s *Stream) {
		if d >= 0 {
			s.throttleTime = d
		}
	}
}

// WithClock overrides the stream's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Stream) {
		if now != nil {
			s.now = now
		}
	}
}

// Stream renders successive block sequences into a bounded set of platform
// messages. Update never waits on the network; Finish drains it.
type Stream struct {
	sched *throttle.Scheduler
	rec   *reconcile.Reconciler

	maxMessageLength    int
	maxBlocksPerMessage int
	throttleTime        time.Duration
	now                 func() time.Time

	mu            sync.Mutex
	latest        []blocks.Block
	dirty         bool
	timer         *time.Timer
	lastReconcile time.Time
	flushErr      error
}

// NewReply starts a stream with no existing messages; the first Update
// creates one.
func NewReply(sched *throttle.Scheduler, channel string, options ...Option) *Stream {
	return newStream(sched, reconcile.New(sched, channel), options)
}

// NewMessage starts a stream wrapping one pre-existing message; the first
// Update rewrites it in place.
func NewMessage(sched *throttle.Scheduler, channel, messageID string, options ...Option) *Stream {
	return newStream(sched, reconcile.NewSeeded(sched, channel, messageID), options)
}

func newStream(sched *throttle.Scheduler, rec *reconcile.Reconciler, options []Option) *Stream {
	s := &Stream{
		sched:               sched,
		rec:                 rec,
		maxMessageLength:    defaultMaxMessageLength,
		maxBlocksPerMessage: defaultMaxBlocksPerMessage,
		throttleTime:        defaultThrottleTime,
		now:                 time.Now,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Update replaces the stream's desired rendering with the given blocks and
// returns after enqueueing; it never waits for network completion. Calls
// inside the debounce window coalesce into a single reconcile pass carrying
// the latest blocks. Any terminal failure already recorded for this
// stream's destinations is surfaced here.
func (s *Stream) Update(latest []blocks.Block) error {
	s.mu.Lock()
	s.latest = latest
	s.dirty = true

	var err error
	if s.now().Sub(s.lastReconcile) >= s.throttleTime {
		err = s.flushLocked()
	} else if s.timer == nil {
		wait := s.throttleTime - s.now().Sub(s.lastReconcile)
		s.timer = time.AfterFunc(wait, s.flushDebounced)
	}

	if s.flushErr != nil && err == nil {
		err = s.flushErr
		s.flushErr = nil
	}
	s.mu.Unlock()

	if failure := s.sched.TakeFailure(s.rec.Destinations()); failure != nil {
		return errors.Join(err, failure)
	}
	return err
}

// Finish flushes any debounced update and blocks until every operation for
// this stream's destinations has drained, so the caller observes the final
// rendered state or a definitive failure.
func (s *Stream) Finish(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	err := s.flushLocked()
	if s.flushErr != nil && err == nil {
		err = s.flushErr
		s.flushErr = nil
	}
	s.mu.Unlock()

	drainErr := s.sched.Drain(ctx, s.rec.Destinations())
	if drainErr == nil {
		s.rec.Release()
	}
	return errors.Join(err, drainErr)
}

// Destinations exposes the stream's live destinations, in slot order.
func (s *Stream) Destinations() []*throttle.Destination {
	return s.rec.Slots()
}

func (s *Stream) flushDebounced() {
	s.mu.Lock()
	s.timer = nil
	if err := s.flushLocked(); err != nil && s.flushErr == nil {
		s.flushErr = err
	}
	s.mu.Unlock()
}

func (s *Stream) flushLocked() error {
	if !s.dirty {
		return nil
	}
	chunks, err := blocks.Split(s.latest, s.maxMessageLength, s.maxBlocksPerMessage)
	if err != nil {
		return err
	}
	s.rec.Reconcile(chunks)
	s.lastReconcile = s.now()
	s.dirty = false
	return nil
}
