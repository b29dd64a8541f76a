package output

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/micro-nova/pulsemix/internal/mailbox"
	"github.com/micro-nova/pulsemix/internal/timing"
)

// Timer is the 8-bit output compare timer.
type Timer interface {
	// Load sets the counter and compare registers and starts the counter.
	Load(start, compare uint8)
	// Enable selects the live interrupts. Enabling an interrupt discards any
	// flag it already had pending.
	Enable(overflow, compare bool)
	// Stop halts the counter and disables both interrupts.
	Stop()
}

// Pins drives the output lines.
type Pins interface {
	SetOutput(ch int, high bool)
}

// Config fixes the output period shape.
type Config struct {
	Period uint16        // ticks per output period
	Margin uint8         // minimum ticks between an overflow and the compare match
	Poll   time.Duration // WaitCompletion polling interval
}

// Generator runs the three-stage output schedule. OnOverflow and OnCompare are
// its interrupt handlers; everything else is called from the main loop.
type Generator struct {
	timer Timer
	pins  Pins
	guard sync.Locker
	cfg   Config

	pending mailbox.Pair

	// Interrupt-owned once started.
	widths [2]uint16
	laps   uint8

	stage     atomic.Uint32
	running   atomic.Bool
	completed atomic.Uint32
	applied   atomic.Uint32 // widths of the current period, w0 | w1<<16
}

// NewGenerator returns a stopped generator. guard is the board's interrupt
// lock.
func NewGenerator(timer Timer, pins Pins, guard sync.Locker, cfg Config) (*Generator, error) {
	if cfg.Margin == 0 {
		return nil, errors.New("output: margin must be at least one tick")
	}
	if uint32(cfg.Period) < 2*uint32(cfg.Margin) {
		return nil, fmt.Errorf("output: period %d too short for margin %d", cfg.Period, cfg.Margin)
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 100 * time.Microsecond
	}
	return &Generator{timer: timer, pins: pins, guard: guard, cfg: cfg}, nil
}

// Start begins emitting with the given initial widths.
func (g *Generator) Start(widths [2]uint16) {
	timing.Critical(g.guard, func() {
		g.pending.Drain()
		g.setWidths(Clamp(widths, g.cfg.Period, g.cfg.Margin))
		g.running.Store(true)
		g.enter(Stage0)
	})
}

// Stop makes the outputs inert: timer halted, both lines low.
func (g *Generator) Stop() {
	timing.Critical(g.guard, func() {
		g.running.Store(false)
		g.timer.Stop()
		g.pins.SetOutput(0, false)
		g.pins.SetOutput(1, false)
	})
}

// Running reports whether the generator is emitting.
func (g *Generator) Running() bool { return g.running.Load() }

// SetWidths queues widths for the next period. Values that do not fit the
// period are clamped. Only the last call before a period boundary takes
// effect.
func (g *Generator) SetWidths(widths [2]uint16) {
	widths = Clamp(widths, g.cfg.Period, g.cfg.Margin)
	g.pending.Publish(widths)
}

// Widths returns the widths of the period being emitted.
func (g *Generator) Widths() [2]uint16 {
	v := g.applied.Load()
	return [2]uint16{uint16(v), uint16(v >> 16)}
}

// Stage returns the current stage.
func (g *Generator) Stage() Stage { return Stage(g.stage.Load()) }

// Completed returns the number of finished periods.
func (g *Generator) Completed() uint32 { return g.completed.Load() }

// WaitCompletion blocks until a period finishes after the one counted by
// after, or ctx ends. There is no implicit timeout: a context without a
// deadline waits for as long as the generator takes.
func (g *Generator) WaitCompletion(ctx context.Context, after uint32) error {
	if g.completed.Load() != after {
		return nil
	}
	ticker := time.NewTicker(g.cfg.Poll)
	defer ticker.Stop()
	for g.completed.Load() == after {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// OnOverflow is the timer overflow handler.
func (g *Generator) OnOverflow() {
	if !g.running.Load() || g.laps == 0 {
		return
	}
	g.laps--
	if g.laps == 0 {
		g.timer.Enable(false, true)
	}
}

// OnCompare is the timer compare-match handler: the current stage has expired.
func (g *Generator) OnCompare() {
	if !g.running.Load() {
		return
	}
	g.enter(g.finish(g.Stage()))
}

// enter starts stage s. Stages of zero width are completed immediately.
func (g *Generator) enter(s Stage) {
	for {
		g.stage.Store(uint32(s))
		var w uint16
		switch s {
		case Stage0, Stage1:
			w = g.widths[s]
			if w > 0 {
				g.pins.SetOutput(int(s), true)
			}
		case Stage2:
			w = g.cfg.Period - g.widths[0] - g.widths[1]
		}
		if w > 0 {
			g.program(Plan(w, g.cfg.Margin))
			return
		}
		s = g.finish(s)
	}
}

// finish ends stage s and returns the next one.
func (g *Generator) finish(s Stage) Stage {
	switch s {
	case Stage0:
		g.pins.SetOutput(0, false)
		return Stage1
	case Stage1:
		g.pins.SetOutput(1, false)
		return Stage2
	default:
		g.completed.Add(1)
		g.takePending()
		return Stage0
	}
}

// takePending applies the widths queued by SetWidths. Both channels change
// together; with nothing pending, or a publish in flight, the period repeats.
func (g *Generator) takePending() {
	if next, ok := g.pending.TryTake(); ok {
		g.setWidths(next)
	}
}

func (g *Generator) setWidths(w [2]uint16) {
	g.widths = w
	g.applied.Store(uint32(w[0]) | uint32(w[1])<<16)
}

func (g *Generator) program(p Program) {
	g.laps = p.High
	g.timer.Load(p.Start, p.Compare)
	if p.High == 0 {
		g.timer.Enable(false, true)
	} else {
		g.timer.Enable(true, false)
	}
}
