package engine

import (
	"time"

	"github.com/micro-nova/pulsemix/internal/calibration"
	"github.com/micro-nova/pulsemix/internal/models"
)

// snapshotKey is the comparable part of a status, used to publish only on
// change.
type snapshotKey struct {
	mode      models.Mode
	err       string
	inputs    [2]uint16
	outputs   [2]uint16
	record    calibration.Record
	hasRecord bool
	indicator bool
	calState  string
}

// Snapshot returns the engine status and publishes it on the bus when it
// differs from the last published one.
func (e *Engine) Snapshot() models.Status {
	st := models.Status{
		Mode:   modelMode(e.Mode()),
		Time:   time.Now(),
		Stage:  e.gen.Stage().String(),
		Cycles: e.gen.Completed(),
		Edges:  e.capt.Edges(),
		Pulses: e.capt.Pulses(),
	}
	if e.Mode() == ModeCalibrating {
		cs := e.machine.Status()
		st.Calibration = &models.CalibrationProgress{
			State:  cs.State.String(),
			Ranges: cs.Ranges,
			Stable: cs.Stable,
			Waited: cs.Waited,
		}
	}

	e.mu.Lock()
	st.Inputs = e.lastIn
	st.Outputs = e.lastOut
	st.Frames = e.frames
	st.Dropped = e.dropped
	st.Indicator = e.indicator
	st.Healthy = e.err == nil
	if e.err != nil {
		st.Error = e.err.Error()
	}
	if e.record != nil {
		rec := *e.record
		st.Record = &rec
	}
	if e.hostTemp != nil {
		c := *e.hostTemp
		st.HostTempC = &c
	}

	key := keyOf(st)
	changed := e.published == nil || *e.published != key
	if changed {
		e.published = &key
	}
	e.mu.Unlock()

	if changed && e.bus != nil {
		e.bus.Publish(st)
	}
	return st
}

func keyOf(st models.Status) snapshotKey {
	k := snapshotKey{
		mode:      st.Mode,
		err:       st.Error,
		inputs:    st.Inputs,
		outputs:   st.Outputs,
		indicator: st.Indicator,
	}
	if st.Record != nil {
		k.record, k.hasRecord = *st.Record, true
	}
	if st.Calibration != nil {
		k.calState = st.Calibration.State
	}
	return k
}

func modelMode(m Mode) models.Mode {
	switch m {
	case ModeRunning:
		return models.ModeRunning
	case ModeCalibrating:
		return models.ModeCalibrating
	default:
		return models.ModeUnknown
	}
}
