// Package reconcile converges a conversation's known message slots to a
// desired chunk sequence using the fewest operations: creates for new slots,
// in-place updates for changed ones, deletes for trailing removals.
package reconcile

import (
	"sync"

	"github.com/streamframe/streamframe/internal/blocks"
	"github.com/streamframe/streamframe/internal/throttle"
)

// Reconciler tracks one conversation's ordered slots. Slot content hashes
// live with the scheduler, which alone observes delivery success; the
// reconciler consults its pending/confirmed views so a failed update is
// never mistaken for converged state.
type Reconciler struct {
	sched   *throttle.Scheduler
	channel string

	mu      sync.Mutex
	slots   []*throttle.Destination
	retired []*throttle.Destination
}

// New returns a reconciler with no known slots; the first reconcile creates
// messages.
func New(sched *throttle.Scheduler, channel string) *Reconciler {
	return &Reconciler{sched: sched, channel: channel}
}

// NewSeeded returns a reconciler whose first slot wraps an existing
// platform message; the first reconcile updates it in place.
func NewSeeded(sched *throttle.Scheduler, channel, messageID string) *Reconciler {
	r := New(sched, channel)
	r.slots = append(r.slots, throttle.NewAssignedDestination(channel, messageID))
	return r
}

// Reconcile enqueues the operations needed to converge the conversation to
// the desired chunk sequence. Re-invoking with unchanged desired content
// enqueues nothing; shrinking by k slots enqueues exactly k deletes; a
// content change is always an in-place update, never a delete plus create.
func (r *Reconciler) Reconcile(desired []blocks.Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, chunk := range desired {
		hash := chunk.Hash()

		if i >= len(r.slots) {
			dest := throttle.NewDestination(r.channel)
			r.slots = append(r.slots, dest)
			r.sched.EnqueueUpdate(dest, chunk)
			continue
		}

		dest := r.slots[i]
		if pending, ok := r.sched.PendingHash(dest); ok {
			if pending == hash {
				continue
			}
		} else if r.sched.ConfirmedHash(dest) == hash {
			continue
		}
		r.sched.EnqueueUpdate(dest, chunk)
	}

	if len(desired) < len(r.slots) {
		for _, dest := range r.slots[len(desired):] {
			r.sched.EnqueueDelete(dest)
			r.retired = append(r.retired, dest)
		}
		r.slots = r.slots[:len(desired)]
	}
}

// Destinations returns every destination this reconciler has touched and
// not yet released: live slots plus retired ones still awaiting deletion.
func (r *Reconciler) Destinations() []*throttle.Destination {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*throttle.Destination, 0, len(r.slots)+len(r.retired))
	out = append(out, r.slots...)
	out = append(out, r.retired...)
	return out
}

// Release drops retired destinations after their deletions have drained.
func (r *Reconciler) Release() {
	r.mu.Lock()
	r.retired = nil
	r.mu.Unlock()
}

// Slots returns the current live slot destinations in order.
func (r *Reconciler) Slots() []*throttle.Destination {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*throttle.Destination, len(r.slots))
	copy(out, r.slots)
	return out
}
