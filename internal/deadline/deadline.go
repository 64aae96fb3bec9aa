// Package deadline implements the cross-platform wall-clock cancellation
// primitive used by the query pipeline.
//
// The original Python source (original_source/memento/timeout.py) installs
// a SIGALRM handler via signal.signal/signal.setitimer — which only fires
// deliveries on the process's main thread and silently does nothing for
// calls made from a worker thread. Spec §5 and §9 both call this out as a
// bug to fix, not a behaviour to preserve: a Deadline here is a plain
// wall-clock time.Time, checked explicitly by whichever goroutine is doing
// the work, so it behaves identically regardless of which goroutine created
// it or which goroutine checks it.
package deadline

import (
	"time"

	"github.com/openclaw/memento/internal/memerr"
)

// Deadline is a wall-clock instant beyond which an operation must abort
// with a Timeout error. A zero-value Deadline (or one built with 0ms) never
// expires — "no deadline" per spec §4.8.
type Deadline struct {
	at      time.Time
	started time.Time
	none    bool
}

// New builds a Deadline timeoutMS milliseconds from now. timeoutMS == 0
// means no deadline.
func New(timeoutMS int64) Deadline {
	now := time.Now()
	if timeoutMS <= 0 {
		return Deadline{started: now, none: true}
	}
	return Deadline{at: now.Add(time.Duration(timeoutMS) * time.Millisecond), started: now}
}

// Check returns a *memerr.Error of KindTimeout if the deadline has passed,
// nil otherwise. Callers check before expensive work and periodically
// during long scans (every 4096 candidates per spec §5).
func (d Deadline) Check() error {
	if d.None() {
		return nil
	}
	if time.Now().After(d.at) {
		return memerr.Timeout("deadline exceeded", d.ElapsedMS())
	}
	return nil
}

// ElapsedMS reports milliseconds since the deadline was constructed.
func (d Deadline) ElapsedMS() int64 {
	return time.Since(d.started).Milliseconds()
}

// Remaining reports the time left, or a large sentinel duration if there is
// no deadline.
func (d Deadline) Remaining() time.Duration {
	if d.None() {
		return time.Hour
	}
	return time.Until(d.at)
}

// None reports whether this Deadline never expires.
func (d Deadline) None() bool { return d.none || d.at.IsZero() }
