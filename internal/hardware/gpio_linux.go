//go:build linux

package hardware

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3"

	"github.com/micro-nova/pulsemix/internal/nvstore"
	"github.com/micro-nova/pulsemix/internal/output"
	"github.com/micro-nova/pulsemix/internal/timing"
)

// GPIOBoard runs the engine on Linux GPIO lines. Input edges arrive as kernel
// line events with CLOCK_MONOTONIC timestamps; both 8-bit timers are emulated
// from the same clock, so input widths are as accurate as the kernel
// timestamps while output edges carry scheduler jitter.
type GPIOBoard struct {
	cfg GPIOConfig

	mu        sync.Mutex
	handlers  [numVectors]Handler
	levels    uint8
	inputs    *gpiocdev.Lines
	outputs   [2]gpio.PinIO
	indicator gpio.PinIO
	counter   *wallCounter
	timer     *softTimer
	eeprom    *nvstore.FileDevice

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGPIOBoard creates a GPIO board. Nothing is touched until Init.
func NewGPIOBoard(cfg GPIOConfig) *GPIOBoard {
	return &GPIOBoard{
		cfg:    cfg,
		eeprom: nvstore.NewFileDevice(cfg.EEPROMPath, EEPROMSize),
	}
}

func monotonicNow() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}

func (b *GPIOBoard) Init(ctx context.Context) error {
	if b.cfg.TickRate <= 0 {
		return fmt.Errorf("gpio: tick rate must be positive, got %v", b.cfg.TickRate)
	}
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("gpio: host init failed: %w", err)
	}

	for ch, n := range b.cfg.Pins.Outputs {
		pin, err := pinByNumber(n)
		if err != nil {
			return err
		}
		if err := pin.Out(gpio.Low); err != nil {
			return fmt.Errorf("gpio: failed to drive output %d low: %w", ch, err)
		}
		b.outputs[ch] = pin
	}
	ind, err := pinByNumber(b.cfg.Pins.Indicator)
	if err != nil {
		return err
	}
	if err := ind.Out(gpio.Low); err != nil {
		return fmt.Errorf("gpio: failed to drive indicator low: %w", err)
	}
	b.indicator = ind

	b.mu.Lock()
	b.counter = &wallCounter{now: monotonicNow, rate: b.cfg.TickRate}
	b.counter.reset()
	b.timer = newSoftTimer(monotonicNow, b.cfg.TickRate, &b.mu, b.fire)
	b.mu.Unlock()

	lines, err := gpiocdev.RequestLines(b.cfg.Chip, b.cfg.Pins.Inputs[:],
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(b.onEdge))
	if err != nil {
		return fmt.Errorf("gpio: request input lines on %s: %w", b.cfg.Chip, err)
	}
	vals := make([]int, len(b.cfg.Pins.Inputs))
	if err := lines.Values(vals); err != nil {
		lines.Close()
		return fmt.Errorf("gpio: read input lines: %w", err)
	}
	b.mu.Lock()
	b.inputs = lines
	for ch, v := range vals {
		b.levels = WithBit(b.levels, uint(ch), v != 0)
	}
	b.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.timer.run(runCtx)
	}()
	go func() {
		defer b.wg.Done()
		b.serviceOverflows(runCtx)
	}()

	slog.Info("gpio: board ready",
		"chip", b.cfg.Chip,
		"inputs", b.cfg.Pins.Inputs,
		"outputs", b.cfg.Pins.Outputs,
		"tick_rate", b.cfg.TickRate)
	return nil
}

func (b *GPIOBoard) Close() error {
	if b.cancel != nil {
		b.cancel()
		b.wg.Wait()
	}
	var firstErr error
	if b.inputs != nil {
		firstErr = b.inputs.Close()
	}
	for _, p := range b.outputs {
		if p != nil {
			_ = p.Out(gpio.Low)
		}
	}
	if b.indicator != nil {
		_ = b.indicator.Out(gpio.Low)
	}
	return firstErr
}

func (b *GPIOBoard) Attach(v Vector, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[v] = h
}

func (b *GPIOBoard) Guard() sync.Locker { return &b.mu }

func (b *GPIOBoard) InputTimer() timing.Counter { return b.counter }

func (b *GPIOBoard) OutputTimer() output.Timer { return b.timer }

func (b *GPIOBoard) Levels() uint8 { return b.levels }

func (b *GPIOBoard) SetOutput(ch int, high bool) {
	_ = b.outputs[ch].Out(gpio.Level(high))
}

func (b *GPIOBoard) SetIndicator(on bool) {
	if err := b.indicator.Out(gpio.Level(on)); err != nil {
		slog.Warn("gpio: indicator write failed", "err", err)
	}
}

// JumperInstalled senses the jumper lines, then returns any of them that are
// also outputs to their idle low state.
func (b *GPIOBoard) JumperInstalled() bool {
	pins := periphPins{}
	installed := SenseJumper(pins, b.cfg.Pins.Jumper[0], b.cfg.Pins.Jumper[1])
	for _, n := range b.cfg.Pins.Jumper {
		if n == b.cfg.Pins.Outputs[0] || n == b.cfg.Pins.Outputs[1] {
			_ = pins.Drive(n, false)
		} else {
			_ = pins.Release(n)
		}
	}
	slog.Debug("gpio: jumper check", "pins", b.cfg.Pins.Jumper, "installed", installed)
	return installed
}

func (b *GPIOBoard) EEPROM() nvstore.Device { return b.eeprom }

func (b *GPIOBoard) IsReal() bool { return true }

func (b *GPIOBoard) profile() Profile {
	return Profile{
		Kind:       BoardGPIO,
		Chip:       b.cfg.Chip,
		Pins:       b.cfg.Pins,
		EEPROMSize: EEPROMSize,
		TickRate:   b.cfg.TickRate,
	}
}

// fire runs the handler for v. Guard held.
func (b *GPIOBoard) fire(v Vector) {
	if h := b.handlers[v]; h != nil {
		h()
	}
}

// onEdge services one kernel line event as a pin-change interrupt, with the
// input counter read as of the event timestamp. Wraps the overflow ticker
// acknowledged after that timestamp are reported through Behind.
func (b *GPIOBoard) onEdge(evt gpiocdev.LineEvent) {
	ch := -1
	for i, off := range b.cfg.Pins.Inputs {
		if off == evt.Offset {
			ch = i
		}
	}
	if ch < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.levels = WithBit(b.levels, uint(ch), evt.Type == gpiocdev.LineEventRisingEdge)
	b.counter.pin(evt.Timestamp)
	defer b.counter.unpin()
	// The capture handler accounts for one pending overflow itself; any older
	// ones are serviced first.
	for b.counter.pending() > 1 {
		b.counter.ClearOverflow()
		b.fire(VecInputOverflow)
	}
	b.fire(VecPinChange)
}

// serviceOverflows plays the input overflow interrupt.
func (b *GPIOBoard) serviceOverflows(ctx context.Context) {
	period := time.Duration(256 * float64(time.Second) / b.cfg.TickRate)
	ticker := time.NewTicker(max(period, 100*time.Microsecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.ackOverflows()
		}
	}
}

// ackOverflows services every wrap up to now.
func (b *GPIOBoard) ackOverflows() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.counter.pending() > 0 {
		b.counter.ClearOverflow()
		b.fire(VecInputOverflow)
	}
}

var (
	_ Board            = (*GPIOBoard)(nil)
	_ timing.Backdated = (*wallCounter)(nil)
)
