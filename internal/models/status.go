// Package models defines the JSON shapes served by the status API and carried
// on the events bus.
package models

import (
	"time"

	"github.com/micro-nova/pulsemix/internal/calibration"
)

// Mode is the engine's boot-time mode.
type Mode string

const (
	ModeUnknown     Mode = ""
	ModeRunning     Mode = "running"
	ModeCalibrating Mode = "calibrating"
)

// Status is a point-in-time snapshot of the engine.
type Status struct {
	Mode    Mode      `json:"mode"`
	Healthy bool      `json:"healthy"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`

	Inputs  [2]uint16 `json:"inputs"`  // last widths taken from capture
	Outputs [2]uint16 `json:"outputs"` // widths the generator is emitting
	Stage   string    `json:"stage"`
	Cycles  uint32    `json:"cycles"`  // output periods completed
	Frames  uint64    `json:"frames"`  // input frames processed
	Dropped uint64    `json:"dropped"` // frames with only one channel fresh

	Edges  uint32 `json:"edges"`
	Pulses uint32 `json:"pulses"`

	Calibration *CalibrationProgress `json:"calibration,omitempty"`
	Record      *calibration.Record  `json:"record,omitempty"`
	Indicator   bool                 `json:"indicator"`
	HostTempC   *float32             `json:"host_temp_c,omitempty"`
}

// CalibrationProgress reports a calibration run.
type CalibrationProgress struct {
	State  string               `json:"state"`
	Ranges [2]calibration.Range `json:"ranges"`
	Stable int                  `json:"stable"`
	Waited int                  `json:"waited"`
}

// Info identifies the running daemon.
type Info struct {
	Hostname string    `json:"hostname"`
	Version  string    `json:"version"`
	Session  string    `json:"session"`
	Board    string    `json:"board"`
	Started  time.Time `json:"started"`
}
