package notify

import (
	"sync"
	"time"
)

const (
	// SessionInterval bounds session-state notifications.
	SessionInterval = 250 * time.Millisecond

	// ProgressInterval bounds streaming-progress notifications.
	ProgressInterval = 200 * time.Millisecond
)

// Throttler delivers at most one call to fn per interval.
//
// Trigger fires immediately when the interval has elapsed since the last delivery; otherwise it
// schedules exactly one trailing delivery at the end of the window, so the last update inside a
// cooldown is never lost. Flush delivers unconditionally and cancels any trailing delivery.
// Calls to fn are serialized and never made while the throttler lock is held.
type Throttler struct {
	clock    Clock
	interval time.Duration
	fn       func()

	mu        sync.Mutex
	lastFired time.Time
	fired     bool
	pending   bool
	timer     Timer
	gen       uint64
	stopped   bool

	fireMu sync.Mutex
}

// NewThrottler creates a throttler. A nil clock uses the real clock.
func NewThrottler(clock Clock, interval time.Duration, fn func()) *Throttler {
	if clock == nil {
		clock = RealClock()
	}
	return &Throttler{
		clock:    clock,
		interval: interval,
		fn:       fn,
	}
}

// Trigger requests a delivery.
func (t *Throttler) Trigger() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	now := t.clock.Now()
	elapsed := now.Sub(t.lastFired)
	if !t.fired || elapsed >= t.interval {
		t.cancelLocked()
		t.markFiredLocked(now)
		t.mu.Unlock()
		t.fire()
		return
	}

	if !t.pending {
		t.pending = true
		t.gen++
		gen := t.gen
		t.timer = t.clock.AfterFunc(t.interval-elapsed, func() { t.trailing(gen) })
	}
	t.mu.Unlock()
}

// Flush delivers now, regardless of the interval.
func (t *Throttler) Flush() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.cancelLocked()
	t.markFiredLocked(t.clock.Now())
	t.mu.Unlock()
	t.fire()
}

// Stop cancels any trailing delivery; later Trigger and Flush calls are ignored.
func (t *Throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.cancelLocked()
}

// Pending reports whether a trailing delivery is scheduled.
func (t *Throttler) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

func (t *Throttler) trailing(gen uint64) {
	t.mu.Lock()
	if t.stopped || !t.pending || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.timer = nil
	t.markFiredLocked(t.clock.Now())
	t.mu.Unlock()
	t.fire()
}

func (t *Throttler) cancelLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = false
	t.gen++
}

func (t *Throttler) markFiredLocked(now time.Time) {
	t.lastFired = now
	t.fired = true
}

func (t *Throttler) fire() {
	t.fireMu.Lock()
	defer t.fireMu.Unlock()
	t.fn()
}
