package mailbox

import "sync/atomic"

// Pair is a Mailbox for two 16-bit values published together, such as the two
// output widths of one period. A reader gets both values of one Publish or
// nothing, never one new value beside an old one.
type Pair struct {
	seq   atomic.Uint32
	cells [4]atomic.Uint32 // v0 lo, v0 hi, v1 lo, v1 hi
	full  atomic.Bool

	hook func(point)
}

func (p *Pair) at(pt point) {
	if p.hook != nil {
		p.hook(pt)
	}
}

// Publish stores v, overwriting any unread pair.
func (p *Pair) Publish(v [2]uint16) {
	p.seq.Add(1)
	p.at(publishBegun)
	p.cells[0].Store(uint32(v[0] & 0xFF))
	p.cells[1].Store(uint32(v[0] >> 8))
	p.at(publishLow)
	p.cells[2].Store(uint32(v[1] & 0xFF))
	p.cells[3].Store(uint32(v[1] >> 8))
	p.at(publishHigh)
	p.full.Store(true)
	p.at(publishFull)
	p.seq.Add(1)
}

// TryTake returns the pending pair and marks the mailbox empty, with the same
// retry contract as Mailbox.TryTake.
func (p *Pair) TryTake() ([2]uint16, bool) {
	before := p.seq.Load()
	p.at(takeSeq)
	if before&1 != 0 {
		return [2]uint16{}, false
	}
	v0 := p.cells[1].Load()<<8 | p.cells[0].Load()
	p.at(takeLow)
	v1 := p.cells[3].Load()<<8 | p.cells[2].Load()
	p.at(takeHigh)
	full := p.full.Load()
	p.at(takeFlag)
	if !full || p.seq.Load() != before {
		return [2]uint16{}, false
	}
	p.full.Store(false)
	if p.seq.Load() != before {
		p.full.Store(true)
	}
	return [2]uint16{uint16(v0), uint16(v1)}, true
}

// Pending reports whether an unread pair is waiting.
func (p *Pair) Pending() bool {
	return p.full.Load()
}

// Drain discards any pending pair.
func (p *Pair) Drain() {
	p.full.Store(false)
}
