package throttle

import "time"

// backoffState tracks retry bookkeeping for one destination. All fields are
// guarded by the scheduler's mutex.
type backoffState struct {
	attempts    int
	delay       time.Duration
	lastFailure time.Time
	readyAt     time.Time
}

// escalate records one more failure and computes the delay before the next
// attempt. After a quiet period with no failures the delay restarts from
// baseline instead of continuing where it left off.
func (b *backoffState) escalate(now time.Time, cfg Config, retryAfter time.Duration) {
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) >= cfg.BackoffReset {
		b.delay = 0
	}

	b.attempts++
	b.lastFailure = now

	switch {
	case b.delay <= 0:
		b.delay = cfg.MinBackoff
	case b.delay*2 > cfg.MaxBackoff:
		b.delay = cfg.MaxBackoff
	default:
		b.delay *= 2
	}

	wait := cfg.MinDelay + b.delay
	if retryAfter > wait {
		wait = retryAfter
	}
	b.readyAt = now.Add(wait)
}

// settle clears failure bookkeeping after a success.
func (b *backoffState) settle() {
	b.attempts = 0
	b.delay = 0
	b.readyAt = time.Time{}
}

func (b *backoffState) ready(now time.Time) bool {
	return !now.Before(b.readyAt)
}
