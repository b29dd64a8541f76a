package hardware

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// GPIOConfig configures a GPIO board.
type GPIOConfig struct {
	Chip       string  // GPIO character device, e.g. "gpiochip0"
	Pins       PinMap  // line offsets, also used as BCM numbers for periph.io
	TickRate   float64 // emulated timer ticks per second
	EEPROMPath string  // calibration image file
}

// senseSettle is how long a sensed line is given to follow its driver.
const senseSettle = 10 * time.Microsecond

// pinByNumber returns the periph.io pin for BCM line n.
func pinByNumber(n int) (gpio.PinIO, error) {
	name := fmt.Sprintf("GPIO%d", n)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio: failed to open %s", name)
	}
	return p, nil
}

// periphPins adapts periph.io pins to the jumper check.
type periphPins map[int]gpio.PinIO

func (p periphPins) pin(n int) (gpio.PinIO, error) {
	if pin, ok := p[n]; ok {
		return pin, nil
	}
	pin, err := pinByNumber(n)
	if err != nil {
		return nil, err
	}
	p[n] = pin
	return pin, nil
}

func (p periphPins) Drive(n int, high bool) error {
	pin, err := p.pin(n)
	if err != nil {
		return err
	}
	return pin.Out(gpio.Level(high))
}

func (p periphPins) Release(n int) error {
	pin, err := p.pin(n)
	if err != nil {
		return err
	}
	return pin.In(gpio.PullUp, gpio.NoEdge)
}

func (p periphPins) Read(n int) (bool, error) {
	pin, err := p.pin(n)
	if err != nil {
		return false, err
	}
	time.Sleep(senseSettle)
	return pin.Read() == gpio.High, nil
}
