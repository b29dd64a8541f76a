package timing_test

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/micro-nova/pulsemix/internal/timing"
)

// fakeCounter models an 8-bit counter over a true tick count. The overflow
// flag is pending while more wraps happened than were acknowledged.
type fakeCounter struct {
	t     uint32
	acked uint32
}

func (c *fakeCounter) Sample() (uint8, bool) {
	return uint8(c.t), c.t>>8 > c.acked
}

func (c *fakeCounter) ClearOverflow() { c.acked++ }

func (c *fakeCounter) advance(d uint32) { c.t += d }

// serviceOverflow runs the overflow vector if its flag is pending.
func (c *fakeCounter) serviceOverflow(ts *timing.Timestamper) {
	if c.t>>8 > c.acked {
		c.acked++
		ts.OnOverflow()
	}
}

func TestNow_NoOverflow(t *testing.T) {
	c := &fakeCounter{t: 42}
	ts := timing.NewTimestamper(c)
	if got := ts.Now(); got != 42 {
		t.Errorf("Now() = %d, want 42", got)
	}
}

func TestNow_PendingOverflowCounted(t *testing.T) {
	c := &fakeCounter{t: 250}
	ts := timing.NewTimestamper(c)
	c.advance(10) // wraps to 4, overflow handler has not run

	if got := ts.Now(); got != 260 {
		t.Errorf("Now() with pending overflow = %d, want 260", got)
	}
	if _, pending := c.Sample(); pending {
		t.Error("overflow flag still pending after Now()")
	}
	// The handler must not count the same wrap again.
	c.serviceOverflow(ts)
	if got := ts.Ticks(); got != 1 {
		t.Errorf("Ticks() = %d, want 1", got)
	}
}

func TestNow_WrapExactlyAtSample(t *testing.T) {
	c := &fakeCounter{t: 255}
	ts := timing.NewTimestamper(c)
	first := ts.Now()
	c.advance(1) // counter reads 0, flag just raised
	second := ts.Now()
	if w := timing.Elapsed(first, second); w != 1 {
		t.Errorf("width across wrap at sample = %d, want 1", w)
	}
}

func TestElapsed_RiseBeforeWrapFallAfter(t *testing.T) {
	// Rising edge at counter 100, wrap, falling edge at counter 50.
	c := &fakeCounter{t: 100}
	ts := timing.NewTimestamper(c)
	rise := ts.Now()
	c.advance(156) // counter wraps to 0
	c.serviceOverflow(ts)
	c.advance(50)
	fall := ts.Now()

	if w := timing.Elapsed(rise, fall); w != 206 {
		t.Errorf("Elapsed = %d, want 206", w)
	}
}

func TestElapsed_WrapsOverFullRange(t *testing.T) {
	from := timing.Timestamp(0xFFFFFF00)
	to := timing.Timestamp(0x00000010)
	if got := timing.Elapsed(from, to); got != 0x110 {
		t.Errorf("Elapsed across 2^32 = %#x, want 0x110", got)
	}
}

func TestNow_RandomWalkTracksTrueTime(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for run := 0; run < 50; run++ {
		c := &fakeCounter{}
		ts := timing.NewTimestamper(c)
		prev := ts.Now()
		for step := 0; step < 2000; step++ {
			c.advance(uint32(rng.Intn(255)) + 1)
			if rng.Intn(2) == 0 {
				c.serviceOverflow(ts)
			}
			now := ts.Now()
			if uint32(now) != c.t {
				t.Fatalf("run %d step %d: Now() = %d, true time %d", run, step, now, c.t)
			}
			if now < prev {
				t.Fatalf("run %d step %d: Now() went backwards %d -> %d", run, step, prev, now)
			}
			prev = now
		}
	}
}

func TestReset(t *testing.T) {
	c := &fakeCounter{t: 300}
	ts := timing.NewTimestamper(c)
	ts.OnOverflow()
	ts.Reset()
	if got := ts.Ticks(); got != 0 {
		t.Errorf("Ticks() after Reset = %d, want 0", got)
	}
}

func TestCritical_ReleasesOnPanic(t *testing.T) {
	var mu sync.Mutex
	func() {
		defer func() { _ = recover() }()
		timing.Critical(&mu, func() { panic("boom") })
	}()
	if !mu.TryLock() {
		t.Fatal("lock still held after panic inside Critical")
	}
	mu.Unlock()
}

// lateCounter samples at a past tick `at` while overflows keep being
// acknowledged against the live count, like an edge event delivered late.
type lateCounter struct {
	fakeCounter
	at   uint32
	late bool
}

func (c *lateCounter) Sample() (uint8, bool) {
	if !c.late {
		return c.fakeCounter.Sample()
	}
	return uint8(c.at), c.at>>8 > c.acked
}

func (c *lateCounter) Behind() uint32 {
	if c.late && c.acked > c.at>>8 {
		return c.acked - c.at>>8
	}
	return 0
}

func TestNow_BackdatedSampleAfterAcknowledgedWrap(t *testing.T) {
	c := &lateCounter{}
	ts := timing.NewTimestamper(c)
	c.advance(1000)
	for c.t>>8 > c.acked {
		c.serviceOverflow(ts)
	}
	start := ts.Now()

	// The live count passes the wrap at 2560 and it is acknowledged before
	// a sample taken at 2500 is read.
	c.advance(1570)
	for c.t>>8 > c.acked {
		c.serviceOverflow(ts)
	}
	c.at, c.late = 2500, true
	if got := timing.Elapsed(start, ts.Now()); got != 1500 {
		t.Errorf("Elapsed to a backdated sample = %d, want 1500", got)
	}
}
