//go:build !linux

package main

import (
	"errors"

	"github.com/micro-nova/pulsemix/internal/config"
	"github.com/micro-nova/pulsemix/internal/hardware"
)

func newGPIOBoard(*config.Settings, string) (hardware.Board, error) {
	return nil, errors.New("gpio boards need linux; run with --mock")
}

func tuneRealtime(int) error { return nil }
