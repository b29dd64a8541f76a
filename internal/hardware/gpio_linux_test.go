//go:build linux

package hardware

import (
	"testing"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/micro-nova/pulsemix/internal/timing"
)

// newEdgeBoard returns a GPIO board with only its input counter set up, on a
// hand-moved clock, and a pin-change handler that measures channel 0 pulses.
func newEdgeBoard(t *testing.T, clk *fakeClock) (*GPIOBoard, *[]uint32) {
	t.Helper()
	b := &GPIOBoard{cfg: GPIOConfig{Pins: PinMap{Inputs: [2]int{17, 27}}, TickRate: testRate}}
	b.counter = &wallCounter{now: clk.now, rate: testRate}
	b.counter.reset()

	ts := timing.NewTimestamper(b.counter)
	var (
		rise   timing.Timestamp
		widths []uint32
	)
	b.Attach(VecInputOverflow, ts.OnOverflow)
	b.Attach(VecPinChange, func() {
		now := ts.Now()
		if HasBit(b.Levels(), 0) {
			rise = now
			return
		}
		widths = append(widths, timing.Elapsed(rise, now))
	})
	return b, &widths
}

func lineEvent(at time.Duration, high bool) gpiocdev.LineEvent {
	typ := gpiocdev.LineEventFallingEdge
	if high {
		typ = gpiocdev.LineEventRisingEdge
	}
	return gpiocdev.LineEvent{Offset: 17, Timestamp: at, Type: typ}
}

func TestOnEdge_LateEventAfterAcknowledgedWrap(t *testing.T) {
	tests := []struct {
		name      string
		rise      time.Duration // event timestamps
		fall      time.Duration
		ackAt     time.Duration // overflow ticker runs here, before delivery
		riseLate  bool          // rising event delivered after ackAt
		fallLate  bool          // falling event delivered after ackAt
		wantWidth uint32
	}{
		{"prompt", 1000 * time.Microsecond, 2500 * time.Microsecond, 0, false, false, 1500},
		{"late fall", 1000 * time.Microsecond, 2500 * time.Microsecond, 2570 * time.Microsecond, false, true, 1500},
		{"late rise", 2500 * time.Microsecond, 4000 * time.Microsecond, 2570 * time.Microsecond, true, false, 1500},
		{"both late", 2500 * time.Microsecond, 2540 * time.Microsecond, 2600 * time.Microsecond, true, true, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := &fakeClock{}
			b, widths := newEdgeBoard(t, clk)

			if !tt.riseLate {
				clk.t = tt.rise + 5*time.Microsecond
				b.onEdge(lineEvent(tt.rise, true))
			}
			if tt.ackAt > 0 {
				clk.t = tt.ackAt
				b.ackOverflows()
			}
			if tt.riseLate {
				clk.t += 10 * time.Microsecond
				b.onEdge(lineEvent(tt.rise, true))
			}
			if clk.t < tt.fall {
				clk.t = tt.fall
			}
			clk.t += 10 * time.Microsecond
			b.onEdge(lineEvent(tt.fall, false))

			if len(*widths) != 1 || (*widths)[0] != tt.wantWidth {
				t.Errorf("widths = %v, want [%d]", *widths, tt.wantWidth)
			}
		})
	}
}
