// Package hardware provides the board abstraction for pulsemix. It defines the
// Board interface used by the engine, a tick-stepped simulation of the 8-bit
// part the engine was designed around, and a Linux GPIO board.
package hardware

import (
	"context"
	"sync"

	"github.com/micro-nova/pulsemix/internal/nvstore"
	"github.com/micro-nova/pulsemix/internal/output"
	"github.com/micro-nova/pulsemix/internal/timing"
)

// Vector identifies an interrupt source.
type Vector int

// Vectors in dispatch priority order: when several are pending at once the
// lower value runs first.
const (
	VecPinChange      Vector = iota // input pin level change
	VecInputOverflow                // input timer wrapped
	VecOutputOverflow               // output timer wrapped
	VecOutputCompare                // output timer compare match
	numVectors
)

func (v Vector) String() string {
	switch v {
	case VecPinChange:
		return "pin-change"
	case VecInputOverflow:
		return "input-overflow"
	case VecOutputOverflow:
		return "output-overflow"
	case VecOutputCompare:
		return "output-compare"
	default:
		return "unknown"
	}
}

// Handler is an interrupt service routine. It runs with the board's interrupt
// lock held and must not block.
type Handler func()

// Board is the hardware the engine runs on.
//
// Methods documented as interrupt context must be called with Guard held:
// from a Handler, or inside timing.Critical(board.Guard(), ...).
type Board interface {
	// Init configures pins and timers. Must be called before any other method.
	Init(ctx context.Context) error

	// Close releases pins and stops background activity.
	Close() error

	// Attach installs the handler for v. Call it after Init; a vector without
	// a handler is ignored.
	Attach(v Vector, h Handler)

	// Guard is the interrupt lock. Holding it keeps every Handler from running.
	Guard() sync.Locker

	// InputTimer is the free-running 8-bit input counter. Interrupt context.
	InputTimer() timing.Counter

	// Levels returns the input levels, bit 0 = channel 0. Interrupt context.
	Levels() uint8

	// OutputTimer is the 8-bit output compare timer. Interrupt context.
	OutputTimer() output.Timer

	// SetOutput drives output channel ch. Interrupt context.
	SetOutput(ch int, high bool)

	// SetIndicator drives the indicator line.
	SetIndicator(on bool)

	// JumperInstalled senses the mode-select jumper.
	JumperInstalled() bool

	// EEPROM is the non-volatile store holding the calibration record.
	EEPROM() nvstore.Device

	// IsReal returns true for physical hardware, false for the simulation.
	IsReal() bool
}

// HardwareError is returned when a hardware operation fails.
type HardwareError struct {
	msg string
}

func (e HardwareError) Error() string { return e.msg }

// ErrHardware creates a new hardware error.
func ErrHardware(msg string) error { return HardwareError{msg: msg} }
