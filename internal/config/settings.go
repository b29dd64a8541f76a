package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/micro-nova/pulsemix/internal/calibration"
	"github.com/micro-nova/pulsemix/internal/hardware"
)

// ErrInvalidSettings is wrapped by every Validate failure.
var ErrInvalidSettings = errors.New("config: invalid settings")

// Settings is the daemon configuration. Every field has a default; a settings
// file only needs the keys it changes.
type Settings struct {
	Board       BoardSettings      `yaml:"board" json:"board"`
	Timing      TimingSettings     `yaml:"timing" json:"timing"`
	Calibration calibration.Params `yaml:"calibration" json:"calibration"`
	Telemetry   TelemetrySettings  `yaml:"telemetry" json:"telemetry"`
	HTTP        HTTPSettings       `yaml:"http" json:"http"`
}

// BoardSettings selects the GPIO lines. Ignored by the simulated board.
type BoardSettings struct {
	Chip        string          `yaml:"chip" json:"chip"`
	Pins        hardware.PinMap `yaml:"pins" json:"pins"`
	EEPROM      string          `yaml:"eeprom" json:"eeprom"`             // calibration image, relative to the data dir
	RealtimeCPU int             `yaml:"realtime_cpu" json:"realtime_cpu"` // -1 leaves affinity alone
}

// TimingSettings are in timer ticks unless noted.
type TimingSettings struct {
	TickRate float64       `yaml:"tick_rate" json:"tick_rate"` // ticks per second
	Period   uint16        `yaml:"period" json:"period"`
	Margin   uint8         `yaml:"margin" json:"margin"`
	Poll     time.Duration `yaml:"poll" json:"poll"` // completion polling interval
	Loop     time.Duration `yaml:"loop" json:"loop"` // main loop idle interval
}

// TelemetrySettings configures the CBOR event log. Empty File and Serial
// disable it.
type TelemetrySettings struct {
	File   string  `yaml:"file" json:"file"`
	Serial string  `yaml:"serial" json:"serial"`
	Baud   int     `yaml:"baud" json:"baud"`
	Rate   float64 `yaml:"rate" json:"rate"` // records per second
	Burst  int     `yaml:"burst" json:"burst"`
}

// HTTPSettings configures the status API.
type HTTPSettings struct {
	Addr      string `yaml:"addr" json:"addr"`
	Advertise bool   `yaml:"advertise" json:"advertise"` // publish over mDNS
}

// Default returns the factory settings: 1 MHz ticks, a 20 ms period and the
// Raspberry Pi header lines next to GPIO17.
func Default() Settings {
	return Settings{
		Board: BoardSettings{
			Chip: "gpiochip0",
			Pins: hardware.PinMap{
				Inputs:    [2]int{17, 27},
				Outputs:   [2]int{22, 23},
				Indicator: 24,
				Jumper:    [2]int{22, 23},
			},
			EEPROM:      "eeprom.bin",
			RealtimeCPU: -1,
		},
		Timing: TimingSettings{
			TickRate: 1e6,
			Period:   20000,
			Margin:   50,
			Poll:     100 * time.Microsecond,
			Loop:     time.Millisecond,
		},
		Calibration: calibration.DefaultParams(),
		Telemetry: TelemetrySettings{
			Baud:  115200,
			Rate:  50,
			Burst: 10,
		},
		HTTP: HTTPSettings{
			Addr:      ":8090",
			Advertise: true,
		},
	}
}

// Validate reports the first out-of-range setting.
func (s *Settings) Validate() error {
	t := s.Timing
	switch {
	case t.TickRate <= 0:
		return fmt.Errorf("%w: tick_rate must be positive, got %v", ErrInvalidSettings, t.TickRate)
	case t.Margin == 0:
		return fmt.Errorf("%w: margin must be at least 1", ErrInvalidSettings)
	case int(t.Period) < 2*int(t.Margin):
		return fmt.Errorf("%w: period %d shorter than twice the margin %d", ErrInvalidSettings, t.Period, t.Margin)
	case t.Poll <= 0 || t.Loop <= 0:
		return fmt.Errorf("%w: poll and loop intervals must be positive", ErrInvalidSettings)
	}

	c := s.Calibration
	if c.StableSamples < 1 || c.WaitSamples < 1 || c.CenterSamples < 1 {
		return fmt.Errorf("%w: calibration sample counts must be at least 1", ErrInvalidSettings)
	}

	p := s.Board.Pins
	used := map[int]string{}
	for name, n := range map[string]int{
		"input 0": p.Inputs[0], "input 1": p.Inputs[1],
		"output 0": p.Outputs[0], "output 1": p.Outputs[1],
		"indicator": p.Indicator,
	} {
		if n < 0 {
			return fmt.Errorf("%w: %s line %d is negative", ErrInvalidSettings, name, n)
		}
		if other, ok := used[n]; ok {
			return fmt.Errorf("%w: %s and %s share line %d", ErrInvalidSettings, name, other, n)
		}
		used[n] = name
	}
	if p.Jumper[0] == p.Jumper[1] {
		return fmt.Errorf("%w: jumper needs two distinct lines", ErrInvalidSettings)
	}

	tel := s.Telemetry
	if tel.Rate < 0 || tel.Burst < 0 {
		return fmt.Errorf("%w: telemetry rate and burst must not be negative", ErrInvalidSettings)
	}
	if tel.Serial != "" && tel.Baud <= 0 {
		return fmt.Errorf("%w: telemetry baud must be positive", ErrInvalidSettings)
	}
	return nil
}
