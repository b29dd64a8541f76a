// Package engine is the main loop: it selects the boot mode, moves captured
// widths from interrupt context into either the calibration machine or the
// mixer, and feeds the mixed widths to the output generator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/micro-nova/pulsemix/internal/calibration"
	"github.com/micro-nova/pulsemix/internal/capture"
	"github.com/micro-nova/pulsemix/internal/config"
	"github.com/micro-nova/pulsemix/internal/events"
	"github.com/micro-nova/pulsemix/internal/hardware"
	"github.com/micro-nova/pulsemix/internal/mailbox"
	"github.com/micro-nova/pulsemix/internal/output"
	"github.com/micro-nova/pulsemix/internal/telemetry"
	"github.com/micro-nova/pulsemix/internal/timing"
	"github.com/micro-nova/pulsemix/internal/transform"
)

var (
	// ErrNotRunning is returned by Reload outside running mode.
	ErrNotRunning = errors.New("engine: not in running mode")
	// ErrStopped is returned by Reload once Run has returned. A record rejected
	// at boot stops Run, so it also wraps that error.
	ErrStopped = errors.New("engine: main loop stopped")
)

// Mode is decided once at boot.
type Mode uint32

const (
	ModeUnselected Mode = iota
	ModeRunning
	ModeCalibrating
)

func (m Mode) String() string {
	switch m {
	case ModeRunning:
		return "running"
	case ModeCalibrating:
		return "calibrating"
	default:
		return "unselected"
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithBus publishes status snapshots to bus.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithRecorder sends telemetry events to rec.
func WithRecorder(rec *telemetry.Recorder) Option {
	return func(e *Engine) { e.rec = rec }
}

// WithMode skips the jumper check and boots into m.
func WithMode(m Mode) Option {
	return func(e *Engine) { e.forced = m }
}

// Engine owns the capture unit, the output generator and the calibration
// record for one board.
type Engine struct {
	board    hardware.Board
	store    *calibration.Store
	settings config.Settings
	bus      *events.Bus
	rec      *telemetry.Recorder
	forced   Mode

	clock   *timing.Timestamper
	boxes   [2]*mailbox.Mailbox
	capt    *capture.Capture
	gen     *output.Generator
	machine *calibration.Machine

	mode     atomic.Uint32
	done     atomic.Bool
	reload   chan chan error
	stopped  chan struct{} // closed when Run returns
	stopOnce sync.Once

	// Main loop only.
	pending  [2]uint16
	fresh    [2]bool
	started  bool
	halted   bool
	calState calibration.State
	dropLog  *rate.Limiter

	mu        sync.Mutex // guards the fields below, read by Snapshot
	record    *calibration.Record
	lastIn    [2]uint16
	lastOut   [2]uint16
	frames    uint64
	dropped   uint64
	indicator bool
	err       error
	hostTemp  *float32
	published *snapshotKey
}

// New wires a capture unit and an output generator to board's interrupt
// vectors. Nothing runs until Run (or Begin and Step).
func New(board hardware.Board, store *calibration.Store, settings config.Settings, opts ...Option) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		board:    board,
		store:    store,
		settings: settings,
		reload:   make(chan chan error),
		stopped:  make(chan struct{}),
		dropLog:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.clock = timing.NewTimestamper(board.InputTimer())
	e.boxes = [2]*mailbox.Mailbox{{}, {}}
	e.capt = capture.New(e.clock, board, e.boxes)

	gen, err := output.NewGenerator(board.OutputTimer(), board, board.Guard(), output.Config{
		Period: settings.Timing.Period,
		Margin: settings.Timing.Margin,
		Poll:   settings.Timing.Poll,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.gen = gen
	e.machine = calibration.NewMachine(settings.Calibration)

	board.Attach(hardware.VecPinChange, e.capt.HandleEdge)
	board.Attach(hardware.VecInputOverflow, e.clock.OnOverflow)
	board.Attach(hardware.VecOutputOverflow, e.gen.OnOverflow)
	board.Attach(hardware.VecOutputCompare, e.gen.OnCompare)
	return e, nil
}

// Generator exposes the output generator, mainly for WaitCompletion.
func (e *Engine) Generator() *output.Generator { return e.gen }

// Mode returns the selected mode.
func (e *Engine) Mode() Mode { return Mode(e.mode.Load()) }

// Done reports whether a calibration run has finished and been stored.
func (e *Engine) Done() bool { return e.done.Load() }

// SelectMode decides the boot mode. The jumper is sensed once; later calls
// return the first answer.
func (e *Engine) SelectMode() Mode {
	if m := e.Mode(); m != ModeUnselected {
		return m
	}
	m := e.forced
	if m == ModeUnselected {
		m = ModeRunning
		if e.board.JumperInstalled() {
			m = ModeCalibrating
		}
	}
	e.mode.Store(uint32(m))
	slog.Info("engine: mode selected", "mode", m, "forced", e.forced != ModeUnselected)
	e.rec.Record(telemetry.Event{Kind: telemetry.KindMode, Mode: m.String()})
	return m
}

// Begin prepares the selected mode: the capture window is re-armed, and in
// running mode the calibration record is loaded. A record that fails its
// checksum or range check leaves the outputs inert and the indicator off.
func (e *Engine) Begin() error {
	mode := e.SelectMode()
	timing.Critical(e.board.Guard(), e.capt.Reset)

	switch mode {
	case ModeCalibrating:
		e.calState = e.machine.Status().State
		e.setIndicator(true)
		slog.Info("engine: calibration started", "params", e.settings.Calibration)
		return nil
	default:
		rec, err := e.store.Load()
		if err != nil {
			e.halt(err)
			return fmt.Errorf("engine: refusing to run: %w", err)
		}
		e.setRecord(rec)
		slog.Info("engine: calibration loaded",
			"ch0", rec.Channels[0], "ch1", rec.Channels[1],
			"throttle_low", rec.ThrottleLow, "throttle_high", rec.ThrottleHigh)
		return nil
	}
}

// Run executes the selected mode until ctx is cancelled. In calibrating mode
// it returns nil once the record is stored; the caller then idles. A load or
// store failure is returned with the outputs inert.
func (e *Engine) Run(ctx context.Context) error {
	defer e.stopOnce.Do(func() { close(e.stopped) })
	if err := e.Begin(); err != nil {
		return err
	}
	defer e.gen.Stop()

	ticker := time.NewTicker(e.settings.Timing.Loop)
	defer ticker.Stop()
	for {
		for {
			processed, err := e.Step()
			if err != nil {
				return err
			}
			if e.Done() {
				return nil
			}
			if !processed {
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case reply := <-e.reload:
			reply <- e.reloadRecord()
		case <-ticker.C:
		}
	}
}

// Step runs one main-loop iteration: both mailboxes are polled and, once each
// channel has delivered a fresh width, the frame is processed. It reports
// whether a frame was processed.
func (e *Engine) Step() (bool, error) {
	if e.Done() {
		return false, nil
	}
	for ch, box := range e.boxes {
		w, ok := box.TryTake()
		if !ok {
			continue
		}
		if e.fresh[ch] {
			e.drop(ch)
		}
		e.pending[ch], e.fresh[ch] = w, true
	}
	if !e.fresh[0] || !e.fresh[1] {
		return false, nil
	}
	frame := e.pending
	e.fresh = [2]bool{}

	e.mu.Lock()
	e.lastIn = frame
	e.frames++
	e.mu.Unlock()

	if e.Mode() == ModeCalibrating {
		return true, e.calibrate(frame)
	}
	e.mix(frame)
	return true, nil
}

// drop counts a width that was replaced before its partner arrived.
func (e *Engine) drop(ch int) {
	e.mu.Lock()
	e.dropped++
	n := e.dropped
	e.mu.Unlock()
	if e.dropLog.Allow() {
		slog.Debug("engine: dropped sample", "ch", ch, "dropped", n)
	}
}

func (e *Engine) calibrate(frame [2]uint16) error {
	fx := e.machine.Feed(frame)
	e.setIndicator(fx.Indicator)

	st := e.machine.Status()
	if st.State != e.calState {
		slog.Debug("engine: calibration state", "from", e.calState, "to", st.State)
		e.calState = st.State
		e.rec.Record(telemetry.Event{Kind: telemetry.KindCalibration, State: st.State.String(), Inputs: frame})
	}
	if fx.Persist == nil {
		return nil
	}

	rec := *fx.Persist
	if err := e.store.Save(rec); err != nil {
		e.halt(err)
		return fmt.Errorf("engine: storing calibration: %w", err)
	}
	e.setRecord(rec)
	e.done.Store(true)
	e.rec.Record(telemetry.Event{
		Kind:  telemetry.KindCalibration,
		State: calibration.StateDone.String(),
		Ranges: []uint16{
			rec.Channels[0].Min, rec.Channels[0].Max, rec.Channels[0].Mid,
			rec.Channels[1].Min, rec.Channels[1].Max, rec.Channels[1].Mid,
		},
	})
	slog.Info("engine: calibration complete")
	return nil
}

func (e *Engine) mix(frame [2]uint16) {
	e.mu.Lock()
	rec := e.record
	e.mu.Unlock()
	if e.halted || rec == nil {
		return
	}

	out := transform.Mix(frame, *rec)
	if e.started {
		e.gen.SetWidths(out)
	} else {
		e.gen.Start(out)
		e.started = true
		slog.Info("engine: outputs started", "widths", out)
	}

	e.mu.Lock()
	e.lastOut = out
	e.mu.Unlock()
	e.rec.Record(telemetry.Event{Kind: telemetry.KindFrame, Inputs: frame, Outputs: out, Cycles: e.gen.Completed()})
}

// halt makes the outputs inert and turns the indicator off.
func (e *Engine) halt(err error) {
	e.gen.Stop()
	e.started = false
	e.halted = true
	e.setIndicator(false)
	e.mu.Lock()
	e.err = err
	e.lastOut = [2]uint16{}
	e.mu.Unlock()
	slog.Error("engine: halted, outputs inert", "err", err)
	e.rec.Record(telemetry.Event{Kind: telemetry.KindFault, Error: err.Error()})
}

// Reload asks the main loop to re-read the calibration record, e.g. after the
// image file changed. A bad record halts the outputs; a good one resumes them
// on the next frame. After Run has returned, including after a record was
// rejected at boot, Reload fails with ErrStopped: a boot rejection is final
// until restart.
func (e *Engine) Reload(ctx context.Context) error {
	if e.Mode() != ModeRunning {
		return ErrNotRunning
	}
	reply := make(chan error, 1)
	select {
	case e.reload <- reply:
	case <-e.stopped:
		if err := e.lastErr(); err != nil {
			return fmt.Errorf("%w: %w", ErrStopped, err)
		}
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) reloadRecord() error {
	rec, err := e.store.Load()
	if err != nil {
		e.halt(err)
		return err
	}
	e.setRecord(rec)
	e.halted = false
	e.mu.Lock()
	e.err = nil
	e.mu.Unlock()
	slog.Info("engine: calibration reloaded", "ch0", rec.Channels[0], "ch1", rec.Channels[1])
	return nil
}

func (e *Engine) lastErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Engine) setRecord(rec calibration.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record = &rec
}

func (e *Engine) setIndicator(on bool) {
	e.mu.Lock()
	changed := e.indicator != on
	e.indicator = on
	e.mu.Unlock()
	if changed || !on {
		e.board.SetIndicator(on)
	}
}

// SetHostTemp records the latest host temperature reading.
func (e *Engine) SetHostTemp(c float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hostTemp = &c
}

// Record returns the calibration record in use, if any.
func (e *Engine) Record() (calibration.Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record == nil {
		return calibration.Record{}, false
	}
	return *e.record, true
}
