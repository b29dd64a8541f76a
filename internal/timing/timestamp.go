// Package timing extends a narrow free-running hardware counter into a wide
// monotonic timestamp using a software overflow-tick count.
package timing

import "sync/atomic"

// Timestamp is an extended counter sample: overflow ticks in the upper bits,
// the hardware counter byte in the low 8 bits. Arithmetic wraps mod 2^32.
type Timestamp uint32

// Counter is an 8-bit free-running hardware counter with an overflow flag.
type Counter interface {
	// Sample returns the counter byte and the overflow-pending flag, read
	// together so a wrap cannot fall between the two reads.
	Sample() (count uint8, overflow bool)

	// ClearOverflow acknowledges the pending overflow. On the target part this
	// also cancels the pending overflow interrupt.
	ClearOverflow()
}

// Backdated is implemented by counters whose samples can lie in the past, such
// as an emulated counter read at a kernel event timestamp. Behind returns how
// many overflows were already acknowledged after the sample point; Now takes
// them back off the tick count.
type Backdated interface {
	Behind() uint32
}

// Timestamper composes Timestamps from a Counter. Now and OnOverflow must only
// be called from interrupt context, where they are serialized with each other.
type Timestamper struct {
	counter Counter
	past    Backdated // nil unless counter implements it
	ticks   atomic.Uint32
}

// NewTimestamper returns a Timestamper reading c.
func NewTimestamper(c Counter) *Timestamper {
	t := &Timestamper{counter: c}
	t.past, _ = c.(Backdated)
	return t
}

// Now returns the current extended timestamp.
//
// If the counter has wrapped but the overflow handler has not run yet, the
// flag is still pending: the wrap is accounted for here and the flag cleared,
// otherwise the sample would be 256 ticks short.
func (t *Timestamper) Now() Timestamp {
	count, overflow := t.counter.Sample()
	ticks := t.ticks.Load()
	if overflow {
		ticks++
		t.ticks.Store(ticks)
		t.counter.ClearOverflow()
	}
	if t.past != nil {
		ticks -= t.past.Behind()
	}
	return Timestamp(ticks<<8 | uint32(count))
}

// OnOverflow is the counter overflow handler. The board clears the flag on
// vector entry.
func (t *Timestamper) OnOverflow() {
	t.ticks.Add(1)
}

// Ticks returns the overflow-tick count.
func (t *Timestamper) Ticks() uint32 { return t.ticks.Load() }

// Reset starts a new capture window.
func (t *Timestamper) Reset() {
	t.ticks.Store(0)
}

// Elapsed returns to - from in counter ticks, wrapping over the full
// Timestamp range.
func Elapsed(from, to Timestamp) uint32 {
	return uint32(to - from)
}
