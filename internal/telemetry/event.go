// Package telemetry records engine events as a CBOR sequence to a file or a
// serial port, and reads such sequences back.
package telemetry

import "time"

// Kind classifies an event.
type Kind uint8

const (
	KindFrame       Kind = 0 // one processed input frame
	KindCalibration Kind = 1 // calibration state change or result
	KindFault       Kind = 2 // checksum mismatch, store failure, hardware error
	KindMode        Kind = 3 // mode selected at boot
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "FRAME"
	case KindCalibration:
		return "CALIBRATION"
	case KindFault:
		return "FAULT"
	case KindMode:
		return "MODE"
	default:
		return "UNKNOWN"
	}
}

// Event is one telemetry record. CBOR encoding uses integer keys.
type Event struct {
	Seq     uint64    `cbor:"1,keyasint"`
	Time    time.Time `cbor:"2,keyasint"`
	Session string    `cbor:"3,keyasint,omitempty"`
	Kind    Kind      `cbor:"4,keyasint"`

	Inputs  [2]uint16 `cbor:"5,keyasint,omitempty"`
	Outputs [2]uint16 `cbor:"6,keyasint,omitempty"`
	Cycles  uint32    `cbor:"7,keyasint,omitempty"`

	Mode  string `cbor:"8,keyasint,omitempty"`
	State string `cbor:"9,keyasint,omitempty"` // calibration state
	Error string `cbor:"10,keyasint,omitempty"`

	// Ranges is set on the calibration result: ch0 min,max,mid, ch1 min,max,mid.
	Ranges []uint16 `cbor:"11,keyasint,omitempty"`
}
