package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/streamframe/streamframe/internal/blocks"
	"github.com/streamframe/streamframe/internal/throttle"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	Op        string
	Channel   string
	MessageID string
	Text      string
}

type fakeTransport struct {
	mu     sync.Mutex
	calls  []recordedCall
	script []error
	nextID int
}

func (f *fakeTransport) nextError() error {
	if len(f.script) == 0 {
		return nil
	}
	err := f.script[0]
	f.script = f.script[1:]
	return err
}

func (f *fakeTransport) PostMessage(_ context.Context, channel string, chunk blocks.Chunk) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextError(); err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("300%d.0001", f.nextID)
	f.calls = append(f.calls, recordedCall{Op: "create", Channel: channel, MessageID: id, Text: chunk.Fallback()})
	return id, nil
}

func (f *fakeTransport) UpdateMessage(_ context.Context, channel, messageID string, chunk blocks.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextError(); err != nil {
		return err
	}
	f.calls = append(f.calls, recordedCall{Op: "update", Channel: channel, MessageID: messageID, Text: chunk.Fallback()})
	return nil
}

func (f *fakeTransport) DeleteMessage(_ context.Context, channel, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextError(); err != nil {
		return err
	}
	f.calls = append(f.calls, recordedCall{Op: "delete", Channel: channel, MessageID: messageID})
	return nil
}

func (f *fakeTransport) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func newTestScheduler(transport throttle.Transport, maxAttempts int) *throttle.Scheduler {
	return throttle.New(transport, throttle.Config{
		MinDelay:     time.Millisecond,
		MinBackoff:   time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
		BackoffReset: time.Minute,
		CallTimeout:  time.Second,
		MaxAttempts:  maxAttempts,
	})
}

func sectionList(texts ...string) []blocks.Block {
	out := make([]blocks.Block, 0, len(texts))
	for _, text := range texts {
		out = append(out, blocks.Section{Text: text})
	}
	return out
}

func TestReplyStreamEndToEnd(t *testing.T) {
	transport := &fakeTransport{}
	sched := newTestScheduler(transport, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	s := NewReply(sched, "C1", WithThrottleTime(0))

	require.NoError(t, s.Update(sectionList("Hello")))
	require.NoError(t, s.Finish(ctx))

	calls := transport.recorded()
	require.Len(t, calls, 1)
	require.Equal(t, "create", calls[0].Op)
	require.Equal(t, "Hello", calls[0].Text)
	createdID := calls[0].MessageID

	require.NoError(t, s.Update(sectionList("Hello, Updated")))
	require.NoError(t, s.Finish(ctx))

	calls = transport.recorded()
	require.Len(t, calls, 2)
	require.Equal(t, "update", calls[1].Op)
	require.Equal(t, createdID, calls[1].MessageID)
	require.Equal(t, "Hello, Updated", calls[1].Text)

	// Repeating the identical update converges with zero additional calls.
	require.NoError(t, s.Update(sectionList("Hello, Updated")))
	require.NoError(t, s.Finish(ctx))
	require.Len(t, transport.recorded(), 2)
}

func TestMessageStreamUpdatesInPlace(t *testing.T) {
	transport := &fakeTransport{}
	sched := newTestScheduler(transport, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	s := NewMessage(sched, "C1", "7777.0001", WithThrottleTime(0))
	require.NoError(t, s.Update(sectionList("rewritten")))
	require.NoError(t, s.Finish(ctx))

	calls := transport.recorded()
	require.Len(t, calls, 1)
	require.Equal(t, "update", calls[0].Op)
	require.Equal(t, "7777.0001", calls[0].MessageID)
}

func TestRapidUpdatesDebounceToOneCall(t *testing.T) {
	transport := &fakeTransport{}
	sched := newTestScheduler(transport, 3)

	s := NewReply(sched, "C1", WithThrottleTime(60*time.Millisecond))

	require.NoError(t, s.Update(sectionList("one")))
	require.NoError(t, s.Update(sectionList("two")))
	require.NoError(t, s.Update(sectionList("three")))

	// The debounce timer has not fired yet; only the first flush is queued.
	require.Equal(t, 1, sched.QueueDepth())

	require.Eventually(t, func() bool {
		dest := s.Destinations()[0]
		hash, ok := sched.PendingHash(dest)
		want := blocks.Chunk{Blocks: sectionList("three")}.Hash()
		return ok && hash == want
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, sched.QueueDepth())

	require.True(t, sched.Tick(context.Background()))
	calls := transport.recorded()
	require.Len(t, calls, 1)
	require.Equal(t, "three", calls[0].Text)
}

func TestStreamSplitsAcrossMessages(t *testing.T) {
	transport := &fakeTransport{}
	sched := newTestScheduler(transport, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	s := NewReply(sched, "C1",
		WithThrottleTime(0),
		WithMaxMessageLength(6),
		WithMaxBlocksPerMessage(10),
	)

	require.NoError(t, s.Update(sectionList("aaaa", "bbbb", "cc")))
	require.NoError(t, s.Finish(ctx))

	calls := transport.recorded()
	require.Len(t, calls, 2)
	texts := []string{calls[0].Text, calls[1].Text}
	require.ElementsMatch(t, []string{"aaaa", "bbbb\ncc"}, texts)

	// Shrinking back to one message deletes the trailing one.
	require.NoError(t, s.Update(sectionList("aaaa")))
	require.NoError(t, s.Finish(ctx))

	calls = transport.recorded()
	require.Equal(t, "delete", calls[len(calls)-1].Op)
	require.Len(t, s.Destinations(), 1)
}

func TestFinishSurfacesExhaustedFailure(t *testing.T) {
	transport := &fakeTransport{script: []error{
		fmt.Errorf("boom"),
	}}
	sched := newTestScheduler(transport, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	s := NewReply(sched, "C1", WithThrottleTime(0))
	require.NoError(t, s.Update(sectionList("doomed")))

	err := s.Finish(ctx)
	require.Error(t, err)

	var exhausted *throttle.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
}

func TestUpdateSurfacesEarlierFailure(t *testing.T) {
	transport := &fakeTransport{script: []error{
		fmt.Errorf("boom"),
	}}
	sched := newTestScheduler(transport, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	s := NewReply(sched, "C1", WithThrottleTime(0))
	require.NoError(t, s.Update(sectionList("doomed")))

	require.Eventually(t, func() bool {
		return sched.QueueDepth() == 0
	}, time.Second, 5*time.Millisecond)

	err := s.Update(sectionList("retry me"))
	require.Error(t, err)

	var exhausted *throttle.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
}
