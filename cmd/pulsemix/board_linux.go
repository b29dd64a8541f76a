//go:build linux

package main

import (
	"github.com/micro-nova/pulsemix/internal/config"
	"github.com/micro-nova/pulsemix/internal/hardware"
)

func newGPIOBoard(s *config.Settings, eepromPath string) (hardware.Board, error) {
	return hardware.NewGPIOBoard(hardware.GPIOConfig{
		Chip:       s.Board.Chip,
		Pins:       s.Board.Pins,
		TickRate:   s.Timing.TickRate,
		EEPROMPath: eepromPath,
	}), nil
}

func tuneRealtime(cpu int) error {
	return hardware.TuneRealtime(cpu)
}
