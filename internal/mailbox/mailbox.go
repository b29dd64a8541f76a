// Package mailbox implements a single-slot, last-value-wins, tear-detecting
// hand-off of a 16-bit value from one writer context to one reader context.
//
// The value is held as two byte cells, the way an 8-bit part stores it, so a
// reader racing a writer can observe a half-written value. A sequence counter
// bumped before and after every write lets the reader detect that and drop the
// sample instead of returning it.
package mailbox

import "sync/atomic"

// point names a preemption point for tests.
type point int

const (
	publishBegun point = iota
	publishLow
	publishHigh
	publishFull
	takeSeq
	takeLow
	takeHigh
	takeFlag
)

// Mailbox carries one pending 16-bit value. Publish must only be called from
// the writer context and TryTake only from the reader context. The zero value
// is an empty mailbox.
type Mailbox struct {
	seq  atomic.Uint32
	lo   atomic.Uint32
	hi   atomic.Uint32
	full atomic.Bool

	// hook is called at each preemption point; nil outside tests.
	hook func(point)
}

func (m *Mailbox) at(p point) {
	if m.hook != nil {
		m.hook(p)
	}
}

// Publish stores v, overwriting any unread value.
func (m *Mailbox) Publish(v uint16) {
	m.seq.Add(1)
	m.at(publishBegun)
	m.lo.Store(uint32(v & 0xFF))
	m.at(publishLow)
	m.hi.Store(uint32(v >> 8))
	m.at(publishHigh)
	m.full.Store(true)
	m.at(publishFull)
	m.seq.Add(1)
}

// TryTake returns the pending value and marks the mailbox empty. It returns
// false when nothing is pending or when a publish overlapped the read; the
// caller retries on its next iteration.
func (m *Mailbox) TryTake() (uint16, bool) {
	before := m.seq.Load()
	m.at(takeSeq)
	if before&1 != 0 {
		return 0, false
	}
	lo := m.lo.Load()
	m.at(takeLow)
	hi := m.hi.Load()
	m.at(takeHigh)
	full := m.full.Load()
	m.at(takeFlag)
	if !full || m.seq.Load() != before {
		return 0, false
	}
	m.full.Store(false)
	// A publish that slipped in after the check must stay pending.
	if m.seq.Load() != before {
		m.full.Store(true)
	}
	return uint16(hi<<8 | lo), true
}

// Pending reports whether an unread value is waiting.
func (m *Mailbox) Pending() bool {
	return m.full.Load()
}

// Drain discards any pending value.
func (m *Mailbox) Drain() {
	m.full.Store(false)
}
