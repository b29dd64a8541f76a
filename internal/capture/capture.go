// Package capture measures pulse widths on the input channels from pin-change
// interrupts and hands them to the main loop through mailboxes.
package capture

import (
	"sync/atomic"

	"github.com/micro-nova/pulsemix/internal/mailbox"
	"github.com/micro-nova/pulsemix/internal/timing"
)

// Channels is the number of input channels.
const Channels = 2

// Levels reads the current input pin levels, one bit per channel
// (bit 0 = channel 0).
type Levels interface {
	Levels() uint8
}

// ChannelEdge is the per-channel edge memory. It is only touched from
// interrupt context.
type ChannelEdge struct {
	High bool             // level seen at the previous interrupt
	Open bool             // a rising edge was seen and its falling edge is due
	Rise timing.Timestamp // timestamp of the most recent rising edge
}

// Capture is the pin-change interrupt handler.
type Capture struct {
	clock  *timing.Timestamper
	pins   Levels
	boxes  [Channels]*mailbox.Mailbox
	edges  [Channels]ChannelEdge
	armed  bool
	counts struct {
		edges  atomic.Uint32
		pulses atomic.Uint32
	}
}

// New returns a Capture publishing channel i's widths to boxes[i].
func New(clock *timing.Timestamper, pins Levels, boxes [Channels]*mailbox.Mailbox) *Capture {
	return &Capture{clock: clock, pins: pins, boxes: boxes}
}

// Reset starts a new capture window: the clock restarts, open pulses are
// dropped and the current levels become the reference. Call it with the
// interrupt lock held or before the handler is attached.
func (c *Capture) Reset() {
	c.clock.Reset()
	levels := c.pins.Levels()
	for ch := range c.edges {
		c.edges[ch] = ChannelEdge{High: levels&(1<<ch) != 0}
	}
	c.armed = true
}

// HandleEdge is the pin-change interrupt handler. One timestamp and one level
// snapshot serve every channel, so simultaneous edges on both channels are
// each seen exactly once.
func (c *Capture) HandleEdge() {
	now := c.clock.Now()
	levels := c.pins.Levels()
	if !c.armed {
		// First interrupt after power-up: only learn the levels.
		c.Reset()
		return
	}
	for ch := range c.edges {
		c.edge(ch, levels&(1<<ch) != 0, now)
	}
}

func (c *Capture) edge(ch int, high bool, now timing.Timestamp) {
	e := &c.edges[ch]
	switch {
	case high && !e.High:
		c.counts.edges.Add(1)
		e.Rise = now
		e.Open = true
	case !high && e.High:
		c.counts.edges.Add(1)
		if e.Open {
			c.boxes[ch].Publish(saturate(timing.Elapsed(e.Rise, now)))
			c.counts.pulses.Add(1)
			e.Open = false
		}
	}
	e.High = high
}

// Edges returns the number of level changes seen since start.
func (c *Capture) Edges() uint32 { return c.counts.edges.Load() }

// Pulses returns the number of widths published since start.
func (c *Capture) Pulses() uint32 { return c.counts.pulses.Load() }

func saturate(w uint32) uint16 {
	if w > 0xFFFF {
		return 0xFFFF
	}
	return uint16(w)
}
