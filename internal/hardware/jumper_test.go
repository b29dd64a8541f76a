package hardware_test

import (
	"errors"
	"testing"

	"github.com/micro-nova/pulsemix/internal/hardware"
)

// wiredPins models two pins with pull-ups, optionally bridged.
type wiredPins struct {
	bridged bool
	driven  [2]bool
	level   [2]bool
	readErr error
}

func (w *wiredPins) Drive(pin int, high bool) error {
	w.driven[pin], w.level[pin] = true, high
	return nil
}

func (w *wiredPins) Release(pin int) error {
	w.driven[pin], w.level[pin] = false, true
	return nil
}

func (w *wiredPins) Read(pin int) (bool, error) {
	if w.readErr != nil {
		return false, w.readErr
	}
	if !w.driven[pin] && w.bridged && w.driven[pin^1] {
		return w.level[pin^1], nil
	}
	return w.level[pin], nil
}

func TestSenseJumper(t *testing.T) {
	if !hardware.SenseJumper(&wiredPins{bridged: true}, 0, 1) {
		t.Error("SenseJumper(bridged) = false, want true")
	}
	if hardware.SenseJumper(&wiredPins{}, 0, 1) {
		t.Error("SenseJumper(open) = true, want false")
	}
	if hardware.SenseJumper(&wiredPins{bridged: true, readErr: errors.New("busy")}, 0, 1) {
		t.Error("SenseJumper with read errors = true, want false")
	}
}
