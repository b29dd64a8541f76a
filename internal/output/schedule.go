// Package output emits the two output pulses each period from a single 8-bit
// compare timer, reprogrammed at every stage boundary.
package output

// Program is one stage's timer program. The counter is loaded with Start and
// runs until High overflows have passed, then the compare match at Compare
// ends the stage.
type Program struct {
	Start   uint8
	Compare uint8
	High    uint8
}

// Plan returns the program for a stage of width ticks.
//
// A compare match scheduled at or just after a counter overflow would race the
// overflow handler, so when the low byte is below margin the counter start is
// biased forward by the shortfall and the compare moved with it. The duration
// is unchanged and the final compare always lands at least margin ticks after
// the last overflow.
func Plan(width uint16, margin uint8) Program {
	h, l := uint8(width>>8), uint8(width)
	var bias uint8
	if l < margin {
		bias = margin - l
	}
	return Program{Start: bias, Compare: l + bias, High: h}
}

// Elapsed returns the stage duration in ticks.
func (p Program) Elapsed() uint32 {
	if p.High == 0 {
		return uint32(p.Compare) - uint32(p.Start)
	}
	return 256*uint32(p.High) + uint32(p.Compare) - uint32(p.Start)
}

// Stage is the phase of the output period.
type Stage uint32

const (
	Stage0 Stage = iota // output 0 pulse
	Stage1              // output 1 pulse
	Stage2              // idle remainder of the period
)

func (s Stage) String() string {
	switch s {
	case Stage0:
		return "stage0"
	case Stage1:
		return "stage1"
	case Stage2:
		return "stage2"
	default:
		return "unknown"
	}
}

// Clamp limits widths so both pulses and the minimum idle stage fit in period.
func Clamp(widths [2]uint16, period uint16, margin uint8) [2]uint16 {
	room := int(period) - int(margin)
	w0 := min(int(widths[0]), room)
	w1 := min(int(widths[1]), room-w0)
	return [2]uint16{uint16(max(w0, 0)), uint16(max(w1, 0))}
}
