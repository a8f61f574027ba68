package quiz

import (
	"sync"
	"time"
)

// Remaining derives the time left on an attempt from its server-issued
// start timestamp. It is recomputed from startedAt on every call rather
// than decremented from a previous value, so a client that stops ticking
// (suspended tab, paused process) resumes with a correct figure.
//
// Clock skew where now < startedAt clamps to the full allotment instead of
// producing a negative elapsed time.
func Remaining(startedAt time.Time, allotted time.Duration, now time.Time) time.Duration {
	if now.Before(startedAt) {
		return allotted
	}
	left := allotted - now.Sub(startedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Countdown is a single-shot, cancellable expiry timer. The callback fires
// at most once; Stop reports whether it prevented the fire. Unlike a bare
// time.AfterFunc, a stopped Countdown guarantees the callback will not run
// even if Stop races the timer going off.
type Countdown struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	fired   bool
}

// NewCountdown schedules fn to run after d.
func NewCountdown(d time.Duration, fn func()) *Countdown {
	c := &Countdown{}
	c.timer = time.AfterFunc(d, func() {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return
		}
		c.fired = true
		c.mu.Unlock()
		fn()
	})
	return c
}

// Stop cancels the countdown. Returns false if the callback already ran or
// the countdown was stopped before.
func (c *Countdown) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.fired {
		return false
	}
	c.stopped = true
	c.timer.Stop()
	return true
}
