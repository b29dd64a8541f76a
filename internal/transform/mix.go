// Package transform maps calibrated input widths to output widths.
package transform

import "github.com/micro-nova/pulsemix/internal/calibration"

// Mix is the differential mix of the primary (channel 0) and secondary
// (channel 1) inputs. Below the throttle threshold both outputs follow the
// primary. Otherwise the secondary's offset from its mid-point is halved and
// added to output 0 and subtracted from output 1. Both outputs are clamped to
// the primary channel's calibrated range.
func Mix(in [2]uint16, rec calibration.Record) [2]uint16 {
	primary := rec.Channels[0]
	if in[0] < rec.ThrottleLow {
		return [2]uint16{clamp(int(in[0]), primary), clamp(int(in[0]), primary)}
	}
	off := (int(in[1]) - int(rec.Channels[1].Mid)) / 2
	return [2]uint16{
		clamp(int(in[0])+off, primary),
		clamp(int(in[0])-off, primary),
	}
}

func clamp(v int, r calibration.Range) uint16 {
	return uint16(min(max(v, int(r.Min)), int(r.Max)))
}
