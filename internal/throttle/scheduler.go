// Package throttle is the call scheduler: the sole authority issuing
// network calls to the platform transport. It coalesces pending operations
// per destination, paces outbound calls, retries with bounded backoff, and
// round-robins across channels so no backlog starves another.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/streamframe/streamframe/internal/blocks"
	"github.com/streamframe/streamframe/internal/callmetrics"
	"github.com/streamframe/streamframe/internal/slack"
)

const (
	defaultMinDelay     = 1 * time.Second
	defaultMinBackoff   = 2 * time.Second
	defaultMaxBackoff   = 60 * time.Second
	defaultBackoffReset = 5 * time.Minute
	defaultCallTimeout  = 30 * time.Second
	defaultMaxAttempts  = 5

	idleInterval      = 50 * time.Millisecond
	drainPollInterval = 10 * time.Millisecond
)

// Transport is the three-operation platform contract the scheduler drives.
type Transport interface {
	PostMessage(ctx context.Context, channel string, chunk blocks.Chunk) (string, error)
	UpdateMessage(ctx context.Context, channel, messageID string, chunk blocks.Chunk) error
	DeleteMessage(ctx context.Context, channel, messageID string) error
}

// Config carries the scheduler's pacing and retry knobs.
type Config struct {
	MinDelay     time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	BackoffReset time.Duration
	CallTimeout  time.Duration
	MaxAttempts  int
}

func (c Config) withDefaults() Config {
	if c.MinDelay <= 0 {
		c.MinDelay = defaultMinDelay
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = defaultMinBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.BackoffReset <= 0 {
		c.BackoffReset = defaultBackoffReset
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	return c
}

// ExhaustedError is the terminal failure for one destination after
// MaxAttempts consecutive failed calls. It is the only error kind that
// crosses the scheduler boundary.
type ExhaustedError struct {
	Channel   string
	MessageID string
	Op        string
	Attempts  int
	Last      error
}

func (e *ExhaustedError) Error() string {
	target := e.Channel
	if e.MessageID != "" {
		target = e.Channel + "/" + e.MessageID
	}
	return fmt.Sprintf("%s to %s exhausted after %d attempts: %v", e.Op, target, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

type opKind int

const (
	opUpdate opKind = iota
	opDelete
)

// pendingOp is the latest scheduled operation for a destination. New
// enqueues replace it, never append.
type pendingOp struct {
	kind  opKind
	chunk blocks.Chunk
	hash  string
}

func (op *pendingOp) name(dest *Destination) string {
	if op.kind == opDelete {
		return "delete"
	}
	if dest.Assigned() {
		return "update"
	}
	return "create"
}

type Option func(*Scheduler)

// WithClock overrides the scheduler's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSleep overrides how the scheduler waits between polls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithLogf sets the scheduler's log sink.
func WithLogf(logf func(string, ...any)) Option {
	return func(s *Scheduler) {
		s.logf = logf
	}
}

// WithRecorder attaches a delivery event recorder.
func WithRecorder(recorder Recorder) Option {
	return func(s *Scheduler) {
		s.recorder = recorder
	}
}

// Scheduler is a single-consumer, multi-producer operation queue. Producers
// enqueue from any goroutine; only the consumer loop started by Run (or
// explicit Tick calls in tests) touches the transport, so two operations for
// one destination are never in flight concurrently.
type Scheduler struct {
	transport Transport
	cfg       Config
	limiter   *rate.Limiter
	recorder  Recorder
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	logf      func(string, ...any)

	mu          sync.Mutex
	queue       map[*Destination]*pendingOp
	backoff     map[*Destination]*backoffState
	confirmed   map[*Destination]string
	failed      map[*Destination]*ExhaustedError
	lastChannel string
}

func New(transport Transport, cfg Config, options ...Option) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		transport: transport,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Every(cfg.MinDelay), 1),
		now:       time.Now,
		sleep:     sleepWithContext,
		queue:     make(map[*Destination]*pendingOp),
		backoff:   make(map[*Destination]*backoffState),
		confirmed: make(map[*Destination]string),
		failed:    make(map[*Destination]*ExhaustedError),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// EnqueueUpdate schedules the chunk as the destination's content, replacing
// any pending operation. Non-blocking; safe from any goroutine.
func (s *Scheduler) EnqueueUpdate(dest *Destination, chunk blocks.Chunk) {
	s.enqueue(dest, &pendingOp{kind: opUpdate, chunk: chunk, hash: chunk.Hash()})
}

// EnqueueDelete schedules removal of the destination's message, discarding
// any pending update. Non-blocking; safe from any goroutine.
func (s *Scheduler) EnqueueDelete(dest *Destination) {
	s.enqueue(dest, &pendingOp{kind: opDelete})
}

func (s *Scheduler) enqueue(dest *Destination, op *pendingOp) {
	s.mu.Lock()
	if _, replaced := s.queue[dest]; replaced {
		callmetrics.RecordCoalesced()
	}
	s.queue[dest] = op
	callmetrics.SetQueueDepth(len(s.queue))
	s.mu.Unlock()
}

// Run drives the consumer loop until the context is canceled. It must be
// started at most once per scheduler.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if s.Tick(ctx) {
			continue
		}
		if err := s.sleep(ctx, idleInterval); err != nil {
			return
		}
	}
}

// Tick processes at most one ready destination and reports whether it did
// any work. Tests call it directly for determinism.
func (s *Scheduler) Tick(ctx context.Context) bool {
	dest, op := s.nextReady()
	if dest == nil {
		return false
	}

	// A delete for a destination the platform never named has nothing to
	// remove remotely; clear it without spending a call.
	if op.kind == opDelete && !dest.Assigned() {
		s.mu.Lock()
		if s.queue[dest] == op {
			delete(s.queue, dest)
		}
		delete(s.confirmed, dest)
		delete(s.backoff, dest)
		callmetrics.SetQueueDepth(len(s.queue))
		s.mu.Unlock()
		return true
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return false
	}

	opName := op.name(dest)
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	started := s.now()
	var messageID string
	var err error
	switch {
	case op.kind == opDelete:
		err = s.transport.DeleteMessage(callCtx, dest.Channel(), dest.MessageID())
	case dest.Assigned():
		err = s.transport.UpdateMessage(callCtx, dest.Channel(), dest.MessageID(), op.chunk)
	default:
		messageID, err = s.transport.PostMessage(callCtx, dest.Channel(), op.chunk)
	}
	cancel()
	latency := s.now().Sub(started)

	if err == nil && messageID != "" {
		dest.setMessageID(messageID)
	}
	s.complete(ctx, dest, op, opName, err, latency)
	return true
}

// nextReady picks the destination to serve. Channels take strict turns in
// sorted cyclic order starting after the last-served one; within a channel
// any ready destination may go.
func (s *Scheduler) nextReady() (*Destination, *pendingOp) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	byChannel := make(map[string]*Destination)
	for dest := range s.queue {
		if bs, ok := s.backoff[dest]; ok && !bs.ready(now) {
			continue
		}
		if _, taken := byChannel[dest.Channel()]; !taken {
			byChannel[dest.Channel()] = dest
		}
	}
	if len(byChannel) == 0 {
		return nil, nil
	}

	channels := make([]string, 0, len(byChannel))
	for channel := range byChannel {
		channels = append(channels, channel)
	}
	sort.Strings(channels)

	picked := channels[0]
	for _, channel := range channels {
		if channel > s.lastChannel {
			picked = channel
			break
		}
	}
	s.lastChannel = picked

	dest := byChannel[picked]
	return dest, s.queue[dest]
}

func (s *Scheduler) complete(ctx context.Context, dest *Destination, op *pendingOp, opName string, err error, latency time.Duration) {
	s.mu.Lock()

	event := Event{
		Channel:   dest.Channel(),
		MessageID: dest.MessageID(),
		Op:        opName,
		Latency:   latency,
		At:        s.now(),
	}

	if err == nil {
		if s.queue[dest] == op {
			delete(s.queue, dest)
		}
		if bs, ok := s.backoff[dest]; ok {
			bs.settle()
		}
		if op.kind == opDelete {
			delete(s.confirmed, dest)
			delete(s.backoff, dest)
		} else {
			s.confirmed[dest] = op.hash
		}
		event.Outcome = "ok"
		callmetrics.RecordCall(opName, "ok", latency)
	} else {
		kind := slack.Kind(err)
		if kind == slack.KindRateLimited {
			callmetrics.RecordThrottle()
		}

		bs := s.backoff[dest]
		if bs == nil {
			bs = &backoffState{}
			s.backoff[dest] = bs
		}

		var retryAfter time.Duration
		var callErr *slack.CallError
		if errors.As(err, &callErr) {
			retryAfter = callErr.RetryAfter
		}
		bs.escalate(s.now(), s.cfg, retryAfter)
		event.ErrorKind = string(kind)
		event.Attempts = bs.attempts

		if bs.attempts >= s.cfg.MaxAttempts {
			exhausted := &ExhaustedError{
				Channel:   dest.Channel(),
				MessageID: dest.MessageID(),
				Op:        opName,
				Attempts:  bs.attempts,
				Last:      err,
			}
			s.failed[dest] = exhausted
			delete(s.queue, dest)
			delete(s.backoff, dest)
			event.Outcome = "exhausted"
			callmetrics.RecordCall(opName, "exhausted", latency)
			callmetrics.RecordExhausted()
			if s.logf != nil {
				s.logf("destination %s/%s exhausted: %v", dest.Channel(), dest.MessageID(), err)
			}
		} else {
			event.Outcome = "retry"
			callmetrics.RecordRetry(opName, string(kind))
			if s.logf != nil {
				s.logf("%s to %s failed (%s, attempt %d/%d), retrying in %s",
					opName, dest.Channel(), kind, bs.attempts, s.cfg.MaxAttempts, bs.readyAt.Sub(s.now()))
			}
		}
	}

	callmetrics.SetQueueDepth(len(s.queue))
	recorder := s.recorder
	s.mu.Unlock()

	if recorder != nil {
		recorder.RecordDelivery(ctx, event)
	}
}

// Drain blocks until none of the given destinations has a pending operation,
// then returns any terminal failures recorded for them. Surfaced failures
// are cleared.
func (s *Scheduler) Drain(ctx context.Context, dests []*Destination) error {
	var failures []error
	for {
		pending := 0
		s.mu.Lock()
		for _, dest := range dests {
			if _, ok := s.queue[dest]; ok {
				pending++
			}
			if exhausted, ok := s.failed[dest]; ok {
				failures = append(failures, exhausted)
				delete(s.failed, dest)
			}
		}
		s.mu.Unlock()

		if pending == 0 {
			return errors.Join(failures...)
		}
		if err := s.sleep(ctx, drainPollInterval); err != nil {
			failures = append(failures, err)
			return errors.Join(failures...)
		}
	}
}

// TakeFailure returns, without blocking, any terminal failures recorded for
// the given destinations, clearing them once surfaced.
func (s *Scheduler) TakeFailure(dests []*Destination) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var failures []error
	for _, dest := range dests {
		if exhausted, ok := s.failed[dest]; ok {
			failures = append(failures, exhausted)
			delete(s.failed, dest)
		}
	}
	return errors.Join(failures...)
}

// PendingHash returns the content hash of a pending update for the
// destination, if one exists.
func (s *Scheduler) PendingHash(dest *Destination) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op, ok := s.queue[dest]; ok && op.kind == opUpdate {
		return op.hash, true
	}
	return "", false
}

// ConfirmedHash returns the hash of the content last confirmed delivered to
// the destination, or empty if nothing has been confirmed.
func (s *Scheduler) ConfirmedHash(dest *Destination) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed[dest]
}

// QueueDepth reports the number of destinations with pending work.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
