package hardware

import "fmt"

// BoardKind identifies the board implementation.
type BoardKind uint8

const (
	BoardSimulated BoardKind = iota // tick-stepped simulation
	BoardGPIO                       // Linux GPIO character device + periph.io pins
)

func (k BoardKind) String() string {
	switch k {
	case BoardSimulated:
		return "simulated"
	case BoardGPIO:
		return "gpio"
	default:
		return "unknown"
	}
}

// PinMap names the lines used by the board. On the simulation these are
// port B bit numbers; on GPIO boards they are line offsets on Chip.
type PinMap struct {
	Inputs    [2]int `json:"inputs" yaml:"inputs"`
	Outputs   [2]int `json:"outputs" yaml:"outputs"`
	Indicator int    `json:"indicator" yaml:"indicator"`
	Jumper    [2]int `json:"jumper" yaml:"jumper"`
}

// Profile describes the board. It is populated once at boot by Detect and is
// then read-only for the lifetime of the process.
type Profile struct {
	Kind       BoardKind
	Chip       string // GPIO chip name, empty on the simulation
	Pins       PinMap
	EEPROMSize int64
	TickRate   float64 // timer ticks per second, 0 when time only moves on demand
}

// String returns a one-line summary for logs.
func (p *Profile) String() string {
	if p.Chip == "" {
		return fmt.Sprintf("%s board, %d byte eeprom", p.Kind, p.EEPROMSize)
	}
	return fmt.Sprintf("%s board on %s, %d byte eeprom", p.Kind, p.Chip, p.EEPROMSize)
}

// describer is implemented by boards that know their own profile.
type describer interface {
	profile() Profile
}

// Detect returns the profile of b. Must be called after Board.Init.
func Detect(b Board) *Profile {
	if d, ok := b.(describer); ok {
		p := d.profile()
		return &p
	}
	p := MockProfile()
	p.EEPROMSize = b.EEPROM().Size()
	return p
}

// MockProfile returns the profile of the simulated part.
func MockProfile() *Profile {
	return &Profile{
		Kind: BoardSimulated,
		Pins: PinMap{
			Inputs:    [2]int{PinIn0, PinIn1},
			Outputs:   [2]int{PinOut0, PinOut1},
			Indicator: PinIndicator,
			Jumper:    [2]int{PinOut0, PinOut1},
		},
		EEPROMSize: EEPROMSize,
	}
}
