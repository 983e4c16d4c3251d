// Package notifytest provides a manually advanced clock for throttling tests.
package notifytest

import (
	"sort"
	"sync"
	"time"

	"github.com/chenapple/thesaurus-management/internal/notify"
)

// Clock is a fake notify.Clock. Timers fire synchronously inside Advance.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*timer
}

type timer struct {
	clock    *Clock
	deadline time.Time
	seq      int
	fn       func()
	active   bool
}

var _ notify.Clock = (*Clock)(nil)

// NewClock creates a fake clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, f func()) notify.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &timer{clock: c, deadline: c.now.Add(d), seq: c.seq, fn: f, active: true}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d, running due timers in deadline order.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.deadline
		next.active = false
		c.removeLocked(next)
		c.mu.Unlock()

		next.fn()
	}
}

// PendingTimers returns the number of timers that have not fired or been stopped.
func (c *Clock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *Clock) nextDueLocked(target time.Time) *timer {
	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].deadline.Equal(c.timers[j].deadline) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})
	if len(c.timers) == 0 || c.timers[0].deadline.After(target) {
		return nil
	}
	return c.timers[0]
}

func (c *Clock) removeLocked(t *timer) {
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if !t.active {
		return false
	}
	t.active = false
	t.clock.removeLocked(t)
	return true
}
