package hardware

import (
	"context"
	"math"
	"runtime"
	"sync"
	"time"
)

// monotonic returns a monotonic time since an arbitrary epoch.
type monotonic func() time.Duration

// spinBelow is the wait under which the soft timer busy-waits instead of
// sleeping; the Go timer cannot wake reliably at finer resolution.
const spinBelow = 200 * time.Microsecond

// wallCounter emulates the free-running 8-bit input counter from a monotonic
// clock. Every method is interrupt context.
type wallCounter struct {
	now   monotonic
	rate  float64 // ticks per second
	start time.Duration
	acked uint64 // overflows acknowledged
	at    time.Duration
	fixed bool // sample at `at` instead of now
}

func (c *wallCounter) ticks() uint64 {
	t := c.now()
	if c.fixed {
		t = c.at
	}
	if t < c.start {
		return 0
	}
	return uint64(float64(t-c.start) * c.rate / float64(time.Second))
}

func (c *wallCounter) Sample() (uint8, bool) {
	n := c.ticks()
	return uint8(n), n>>8 > c.acked
}

func (c *wallCounter) ClearOverflow() { c.acked++ }

// pending returns the number of overflows not yet acknowledged.
func (c *wallCounter) pending() uint64 {
	if n := c.ticks() >> 8; n > c.acked {
		return n - c.acked
	}
	return 0
}

func (c *wallCounter) reset() {
	c.start = c.now()
	c.acked = 0
	c.fixed = false
}

// pin makes samples read the counter as of t, the kernel timestamp of the
// edge being serviced.
func (c *wallCounter) pin(t time.Duration) {
	c.at, c.fixed = t, true
}

func (c *wallCounter) unpin() { c.fixed = false }

// Behind returns the overflows acknowledged after the pinned sample point. A
// late edge event can be serviced after the overflow ticker has already
// acknowledged a wrap that happened after the edge.
func (c *wallCounter) Behind() uint32 {
	if !c.fixed {
		return 0
	}
	if n := c.ticks() >> 8; c.acked > n {
		return uint32(c.acked - n)
	}
	return 0
}

// softTimer emulates the 8-bit output compare timer. Load, Enable and Stop are
// interrupt context; run delivers the due vector through fire with the guard
// held.
type softTimer struct {
	now   monotonic
	rate  float64
	guard sync.Locker
	fire  func(Vector)
	wake  chan struct{}

	running bool
	base    time.Duration // when the counter held start
	start   uint8
	ocr     uint8
	served  uint64 // unwrapped count of the last delivered event
	ovfEn   bool
	cmpEn   bool
}

func newSoftTimer(now monotonic, rate float64, guard sync.Locker, fire func(Vector)) *softTimer {
	return &softTimer{now: now, rate: rate, guard: guard, fire: fire, wake: make(chan struct{}, 1)}
}

func (t *softTimer) Load(start, compare uint8) {
	t.base = t.now()
	t.start, t.ocr = start, compare
	t.served = uint64(start)
	t.running = true
	t.poke()
}

func (t *softTimer) Enable(overflow, compare bool) {
	t.ovfEn, t.cmpEn = overflow, compare
	t.poke()
}

func (t *softTimer) Stop() {
	t.running = false
	t.ovfEn, t.cmpEn = false, false
	t.poke()
}

func (t *softTimer) poke() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// next returns the unwrapped count, wall time and vector of the next enabled
// event. Events are counted from the last delivered one, so a late wake-up
// delivers them late rather than dropping them.
func (t *softTimer) next() (pos uint64, at time.Duration, v Vector, ok bool) {
	if !t.running || !(t.ovfEn || t.cmpEn) {
		return 0, 0, 0, false
	}
	pos = math.MaxUint64
	if t.ovfEn {
		pos, v = (t.served/256+1)*256, VecOutputOverflow
	}
	if t.cmpEn {
		c := t.served/256*256 + uint64(t.ocr)
		if c <= t.served {
			c += 256
		}
		if c < pos {
			pos, v = c, VecOutputCompare
		}
	}
	at = t.base + time.Duration(float64(pos-uint64(t.start))*float64(time.Second)/t.rate)
	return pos, at, v, true
}

func (t *softTimer) run(ctx context.Context) {
	sleep := time.NewTimer(time.Hour)
	defer sleep.Stop()
	for {
		t.guard.Lock()
		_, at, _, ok := t.next()
		t.guard.Unlock()

		wait := time.Hour
		if ok {
			wait = at - t.now()
		}
		switch {
		case wait <= 0:
			t.deliver()
			continue
		case wait < spinBelow:
			for t.now() < at {
				select {
				case <-ctx.Done():
					return
				default:
				}
				runtime.Gosched()
			}
			t.deliver()
			continue
		}

		if !sleep.Stop() {
			select {
			case <-sleep.C:
			default:
			}
		}
		sleep.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-t.wake:
		case <-sleep.C:
		}
	}
}

// deliver fires the next event if it is still due once the guard is held; a
// reprogram in between may have moved it.
func (t *softTimer) deliver() {
	t.guard.Lock()
	defer t.guard.Unlock()
	pos, at, v, ok := t.next()
	if !ok || at > t.now() {
		return
	}
	t.served = pos
	t.fire(v)
}
