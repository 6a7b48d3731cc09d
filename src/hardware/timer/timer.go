package timer

import (
	"sync"
	"time"
)

const MicrosPerSecond = 1_000_000
const TicksPerSecond = 100

// DefaultSlice is the preemption quantum, one tick.
const DefaultSlice = time.Second / TicksPerSecond

// Clock is the monotonic microsecond counter.
type Clock interface {
	NowMicroseconds() uint64
}

// SystemClock counts from the wall clock time it was created at, but only
// ever moves forward with the monotonic clock.
type SystemClock struct {
	base  uint64
	start time.Time
}

func NewSystemClock() *SystemClock {
	now := time.Now()
	return &SystemClock{base: uint64(now.UnixMicro()), start: now}
}

func (c *SystemClock) NowMicroseconds() uint64 {
	return c.base + uint64(time.Since(c.start)/time.Microsecond)
}

// ManualClock only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

func NewManualClock(start uint64) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) NowMicroseconds() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += uint64(d / time.Microsecond)
}

// Set moves the clock to us, it never goes backwards.
func (c *ManualClock) Set(us uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if us > c.now {
		c.now = us
	}
}

// Ticker is the compare register for the scheduling timer.  A zero slice
// disables preemption.
type Ticker struct {
	clock Clock
	slice uint64
	next  uint64
}

func NewTicker(c Clock, slice time.Duration) *Ticker {
	return &Ticker{clock: c, slice: uint64(slice / time.Microsecond)}
}

func (t *Ticker) SetNextTrigger() {
	t.next = t.clock.NowMicroseconds() + t.slice
}

func (t *Ticker) Expired() bool {
	return t.slice != 0 && t.clock.NowMicroseconds() >= t.next
}
