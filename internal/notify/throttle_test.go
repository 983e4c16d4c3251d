package notify_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenapple/thesaurus-management/internal/notify"
	"github.com/chenapple/thesaurus-management/internal/notify/notifytest"
)

type fireLog struct {
	mu    sync.Mutex
	clock *notifytest.Clock
	start time.Time
	at    []time.Duration
}

func (l *fireLog) record() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.at = append(l.at, l.clock.Now().Sub(l.start))
}

func (l *fireLog) times() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.at...)
}

func newFixture() (*notifytest.Clock, *fireLog, *notify.Throttler) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := notifytest.NewClock(start)
	log := &fireLog{clock: clock, start: start}
	return clock, log, notify.NewThrottler(clock, 250*time.Millisecond, log.record)
}

func TestThrottler_FirstTriggerFiresImmediately(t *testing.T) {
	_, log, th := newFixture()

	th.Trigger()
	assert.Equal(t, []time.Duration{0}, log.times())
	assert.False(t, th.Pending())
}

func TestThrottler_BurstCoalescesIntoOneTrailingFire(t *testing.T) {
	clock, log, th := newFixture()

	th.Trigger() // t=0 fires
	clock.Advance(50 * time.Millisecond)
	th.Trigger() // schedules trailing at 250
	clock.Advance(50 * time.Millisecond)
	th.Trigger() // coalesced
	th.Trigger()
	assert.Equal(t, 1, clock.PendingTimers())
	assert.True(t, th.Pending())

	clock.Advance(149 * time.Millisecond)
	assert.Len(t, log.times(), 1)

	clock.Advance(1 * time.Millisecond)
	assert.Equal(t, []time.Duration{0, 250 * time.Millisecond}, log.times())
	assert.False(t, th.Pending())
	assert.Equal(t, 0, clock.PendingTimers())
}

func TestThrottler_TriggerAfterIntervalFiresImmediately(t *testing.T) {
	clock, log, th := newFixture()

	th.Trigger()
	clock.Advance(300 * time.Millisecond)
	th.Trigger()
	assert.Equal(t, []time.Duration{0, 300 * time.Millisecond}, log.times())
	assert.Equal(t, 0, clock.PendingTimers())
}

func TestThrottler_AtMostOneFirePerInterval(t *testing.T) {
	clock, log, th := newFixture()

	// Trigger every 10ms for one second
	for i := 0; i < 100; i++ {
		th.Trigger()
		clock.Advance(10 * time.Millisecond)
	}
	clock.Advance(time.Second)

	times := log.times()
	require.NotEmpty(t, times)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i]-times[i-1], 250*time.Millisecond)
	}
	// The last trigger happened at 990ms; its update must be delivered after that
	assert.GreaterOrEqual(t, times[len(times)-1], 990*time.Millisecond)
}

func TestThrottler_FlushCancelsTrailing(t *testing.T) {
	clock, log, th := newFixture()

	th.Trigger()
	clock.Advance(100 * time.Millisecond)
	th.Trigger()
	require.True(t, th.Pending())

	th.Flush()
	assert.Equal(t, []time.Duration{0, 100 * time.Millisecond}, log.times())
	assert.False(t, th.Pending())

	clock.Advance(time.Second)
	assert.Len(t, log.times(), 2)
}

func TestThrottler_FlushFiresEvenInsideWindow(t *testing.T) {
	clock, log, th := newFixture()

	th.Flush()
	clock.Advance(time.Millisecond)
	th.Flush()
	assert.Len(t, log.times(), 2)

	// A trigger right after a flush is throttled relative to the flush
	th.Trigger()
	assert.Len(t, log.times(), 2)
	clock.Advance(249 * time.Millisecond)
	assert.Len(t, log.times(), 2)
	clock.Advance(1 * time.Millisecond)
	assert.Len(t, log.times(), 3)
}

func TestThrottler_Stop(t *testing.T) {
	clock, log, th := newFixture()

	th.Trigger()
	clock.Advance(10 * time.Millisecond)
	th.Trigger()
	th.Stop()

	clock.Advance(time.Second)
	th.Trigger()
	th.Flush()
	assert.Len(t, log.times(), 1)
	assert.False(t, th.Pending())
}

func TestThrottler_RealClock(t *testing.T) {
	var fired int32
	th := notify.NewThrottler(nil, 20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	defer th.Stop()

	th.Trigger()
	th.Trigger()
	th.Trigger()
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 2
	}, time.Second, 5*time.Millisecond)
}
