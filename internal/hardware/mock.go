package hardware

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/micro-nova/pulsemix/internal/nvstore"
	"github.com/micro-nova/pulsemix/internal/output"
	"github.com/micro-nova/pulsemix/internal/timing"
)

// Edge is one recorded output level change.
type Edge struct {
	Tick uint64
	Ch   int
	High bool
}

type inputEvent struct {
	at   uint64
	ch   int
	high bool
}

// Mock is a tick-stepped simulation of the target part: 8-bit input and
// output timers, pin-change detection, EEPROM behind its control registers,
// the indicator and the mode jumper. Time only moves when Advance is called
// (or Run paces it from the wall clock); interrupts are dispatched
// synchronously in priority order with the board lock held.
type Mock struct {
	mu         sync.Mutex
	regs       [numRegisters]byte
	eeprom     [EEPROMSize]byte
	handlers   [numVectors]Handler
	now        uint64
	external   byte // levels driven onto the input pins
	jumper     bool
	failEEPROM bool
	schedule   []inputEvent
	trace      []Edge
}

// NewMock creates a simulated board with an erased EEPROM and no jumper.
func NewMock() *Mock {
	m := &Mock{}
	for i := range m.eeprom {
		m.eeprom[i] = nvstore.Erased
	}
	return m
}

// SetJumper installs or removes the mode jumper.
func (m *Mock) SetJumper(installed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jumper = installed
}

// SetFailEEPROM makes EEPROM writes hang busy, as a worn-out cell would.
func (m *Mock) SetFailEEPROM(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failEEPROM = fail
	if !fail {
		m.regs[RegEECR] &^= Bit(BitEEPE)
	}
}

func (m *Mock) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Outputs and indicator driven low, inputs with pull-ups.
	m.regs[RegDDRB] = Bit(PinOut0) | Bit(PinOut1) | Bit(PinIndicator)
	m.regs[RegPORTB] = Bit(PinIn0) | Bit(PinIn1)
	m.regs[RegPCMSK] = Bit(PinIn0) | Bit(PinIn1)
	m.regs[RegGIFR] = 0
	m.regs[RegGIMSK] = Bit(BitPCIE)
	m.regs[RegTIFR] = 0
	m.regs[RegTIMSK] = Bit(BitTOIE1)
	m.regs[RegTCNT1] = 0
	m.regs[RegTCCR1] = Clock1Div8
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[RegTCCR1] = ClockOff
	m.regs[RegTCCR0B] = ClockOff
	m.regs[RegTIMSK] = 0
	m.regs[RegGIMSK] = 0
	return nil
}

func (m *Mock) Attach(v Vector, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[v] = h
}

func (m *Mock) Guard() sync.Locker { return &m.mu }

func (m *Mock) InputTimer() timing.Counter { return mockInputTimer{m} }

func (m *Mock) OutputTimer() output.Timer { return mockOutputTimer{m} }

func (m *Mock) Levels() uint8 { return LevelsFromPINB(m.pinb()) }

func (m *Mock) SetOutput(ch int, high bool) {
	pin := OutputPin(ch)
	if HasBit(m.regs[RegPORTB], pin) == high {
		return
	}
	m.regs[RegPORTB] = WithBit(m.regs[RegPORTB], pin, high)
	m.trace = append(m.trace, Edge{Tick: m.now, Ch: ch, High: high})
}

func (m *Mock) SetIndicator(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[RegPORTB] = WithBit(m.regs[RegPORTB], PinIndicator, on)
}

// Indicator returns the indicator level.
func (m *Mock) Indicator() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return HasBit(m.regs[RegPORTB], PinIndicator)
}

// Output returns the level of output channel ch.
func (m *Mock) Output(ch int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return HasBit(m.regs[RegPORTB], OutputPin(ch))
}

func (m *Mock) JumperInstalled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ddr, port := m.regs[RegDDRB], m.regs[RegPORTB]
	defer func() {
		m.regs[RegDDRB], m.regs[RegPORTB] = ddr, port
	}()
	return SenseJumper(portPins{m}, PinOut0, PinOut1)
}

func (m *Mock) EEPROM() nvstore.Device {
	return NewRegisterEEPROM(m, EEPROMSize)
}

func (m *Mock) IsReal() bool { return false }

// Now returns the number of ticks simulated so far.
func (m *Mock) Now() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// ReadReg returns the value of register r.
func (m *Mock) ReadReg(r Register) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r == RegPINB {
		return m.pinb()
	}
	return m.regs[r]
}

// WriteReg writes v to register r with the part's side effects: flag
// registers clear the bits written as one, PINB is read-only and EECR starts
// EEPROM reads and writes.
func (m *Mock) WriteReg(r Register, v byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch r {
	case RegTIFR, RegGIFR:
		m.regs[r] &^= v
	case RegPINB:
	case RegEECR:
		m.eecr(v)
	default:
		m.regs[r] = v
	}
}

func (m *Mock) eecr(v byte) {
	addr := (int(m.regs[RegEEARH])<<8 | int(m.regs[RegEEARL])) % EEPROMSize
	if HasBit(v, BitEERE) && !HasBit(m.regs[RegEECR], BitEEPE) {
		m.regs[RegEEDR] = m.eeprom[addr]
	}
	if HasBit(v, BitEEPE) && HasBit(m.regs[RegEECR], BitEEMPE) {
		if m.failEEPROM {
			m.regs[RegEECR] = Bit(BitEEPE)
			return
		}
		m.eeprom[addr] = m.regs[RegEEDR]
		m.regs[RegEECR] = 0
		return
	}
	m.regs[RegEECR] = v &^ (Bit(BitEERE) | Bit(BitEEPE))
}

// SetInput drives input channel ch and services the resulting interrupt.
func (m *Mock) SetInput(ch int, high bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setInput(ch, high)
	m.dispatch()
}

// SchedulePulse queues a pulse of width ticks on input channel ch, rising at
// tick at.
func (m *Mock) SchedulePulse(ch int, at uint64, width uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedule = append(m.schedule,
		inputEvent{at: at, ch: ch, high: true},
		inputEvent{at: at + width, ch: ch, high: false})
	sort.SliceStable(m.schedule, func(i, j int) bool { return m.schedule[i].at < m.schedule[j].at })
}

// OutputTrace returns every output level change since the last ClearTrace.
func (m *Mock) OutputTrace() []Edge {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Edge, len(m.trace))
	copy(out, m.trace)
	return out
}

// ClearTrace discards the recorded output trace.
func (m *Mock) ClearTrace() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trace = nil
}

// Advance simulates n timer ticks.
func (m *Mock) Advance(n uint64) {
	for ; n > 0; n-- {
		m.mu.Lock()
		m.step()
		m.mu.Unlock()
	}
}

// Run advances the simulation at tickRate ticks per second of wall time until
// ctx is cancelled.
func (m *Mock) Run(ctx context.Context, tickRate float64) {
	const interval = time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := time.Now()
	var done uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due := uint64(time.Since(start).Seconds() * tickRate)
			m.Advance(due - done)
			done = due
		}
	}
}

func (m *Mock) step() {
	m.now++
	if m.regs[RegTCCR1]&0x0F != ClockOff {
		m.regs[RegTCNT1]++
		if m.regs[RegTCNT1] == 0 {
			m.regs[RegTIFR] |= Bit(BitTOV1)
		}
	}
	if m.regs[RegTCCR0B]&0x07 != ClockOff {
		m.regs[RegTCNT0]++
		if m.regs[RegTCNT0] == 0 {
			m.regs[RegTIFR] |= Bit(BitTOV0)
		}
		if m.regs[RegTCNT0] == m.regs[RegOCR0A] {
			m.regs[RegTIFR] |= Bit(BitOCF0A)
		}
	}
	for len(m.schedule) > 0 && m.schedule[0].at <= m.now {
		ev := m.schedule[0]
		m.schedule = m.schedule[1:]
		m.setInput(ev.ch, ev.high)
	}
	m.dispatch()
}

func (m *Mock) setInput(ch int, high bool) {
	before := m.pinb()
	m.external = WithBit(m.external, InputPin(ch), high)
	if (before^m.pinb())&m.regs[RegPCMSK] != 0 {
		m.regs[RegGIFR] |= Bit(BitPCIF)
	}
}

// dispatch runs pending, enabled interrupts highest priority first. The flag
// is cleared on vector entry, so a handler that clears another vector's flag
// cancels that vector.
func (m *Mock) dispatch() {
	for n := 0; n < 4*int(numVectors); n++ {
		v, ok := m.pending()
		if !ok {
			return
		}
		m.ack(v)
		m.handlers[v]()
	}
}

func (m *Mock) pending() (Vector, bool) {
	gifr, gimsk := m.regs[RegGIFR], m.regs[RegGIMSK]
	tifr, timsk := m.regs[RegTIFR], m.regs[RegTIMSK]
	checks := [numVectors]bool{
		VecPinChange:      HasBit(gimsk, BitPCIE) && HasBit(gifr, BitPCIF),
		VecInputOverflow:  HasBit(timsk, BitTOIE1) && HasBit(tifr, BitTOV1),
		VecOutputOverflow: HasBit(timsk, BitTOIE0) && HasBit(tifr, BitTOV0),
		VecOutputCompare:  HasBit(timsk, BitOCIE0A) && HasBit(tifr, BitOCF0A),
	}
	for v, due := range checks {
		if due && m.handlers[v] != nil {
			return Vector(v), true
		}
	}
	return 0, false
}

func (m *Mock) ack(v Vector) {
	switch v {
	case VecPinChange:
		m.regs[RegGIFR] &^= Bit(BitPCIF)
	case VecInputOverflow:
		m.regs[RegTIFR] &^= Bit(BitTOV1)
	case VecOutputOverflow:
		m.regs[RegTIFR] &^= Bit(BitTOV0)
	case VecOutputCompare:
		m.regs[RegTIFR] &^= Bit(BitOCF0A)
	}
}

// pinb computes the pin levels: outputs read back their latch, inputs follow
// the external driver, a released jumper pin follows its driven partner, and
// anything else reads its pull-up.
func (m *Mock) pinb() byte {
	ddr, port := m.regs[RegDDRB], m.regs[RegPORTB]
	var pin byte
	for n := uint(0); n < 8; n++ {
		var level bool
		switch {
		case HasBit(ddr, n):
			level = HasBit(port, n)
		case n == PinIn0 || n == PinIn1:
			level = HasBit(m.external, n)
		case m.jumper && (n == PinOut0 || n == PinOut1) && HasBit(ddr, n^1):
			level = HasBit(port, n^1)
		default:
			level = HasBit(port, n)
		}
		pin = WithBit(pin, n, level)
	}
	return pin
}

// mockInputTimer is the input counter as seen from interrupt context.
type mockInputTimer struct{ m *Mock }

func (t mockInputTimer) Sample() (uint8, bool) {
	return t.m.regs[RegTCNT1], HasBit(t.m.regs[RegTIFR], BitTOV1)
}

func (t mockInputTimer) ClearOverflow() {
	t.m.regs[RegTIFR] &^= Bit(BitTOV1)
}

// mockOutputTimer is the output compare timer as seen from interrupt context.
type mockOutputTimer struct{ m *Mock }

func (t mockOutputTimer) Load(start, compare uint8) {
	t.m.regs[RegTCNT0] = start
	t.m.regs[RegOCR0A] = compare
	t.m.regs[RegTCCR0B] = Clock0Div8
}

func (t mockOutputTimer) Enable(overflow, compare bool) {
	timsk, tifr := t.m.regs[RegTIMSK], t.m.regs[RegTIFR]
	if overflow && !HasBit(timsk, BitTOIE0) {
		tifr &^= Bit(BitTOV0)
	}
	if compare && !HasBit(timsk, BitOCIE0A) {
		tifr &^= Bit(BitOCF0A)
	}
	timsk = WithBit(timsk, BitTOIE0, overflow)
	timsk = WithBit(timsk, BitOCIE0A, compare)
	t.m.regs[RegTIMSK], t.m.regs[RegTIFR] = timsk, tifr
}

func (t mockOutputTimer) Stop() {
	t.m.regs[RegTCCR0B] = ClockOff
	t.m.regs[RegTIMSK] &^= Bit(BitTOIE0) | Bit(BitOCIE0A)
	t.m.regs[RegTIFR] &^= Bit(BitTOV0) | Bit(BitOCF0A)
}

// portPins drives port B directly for the jumper check. Lock held.
type portPins struct{ m *Mock }

func (p portPins) Drive(pin int, high bool) error {
	p.m.regs[RegDDRB] = WithBit(p.m.regs[RegDDRB], uint(pin), true)
	p.m.regs[RegPORTB] = WithBit(p.m.regs[RegPORTB], uint(pin), high)
	return nil
}

func (p portPins) Release(pin int) error {
	p.m.regs[RegDDRB] = WithBit(p.m.regs[RegDDRB], uint(pin), false)
	p.m.regs[RegPORTB] = WithBit(p.m.regs[RegPORTB], uint(pin), true)
	return nil
}

func (p portPins) Read(pin int) (bool, error) {
	return HasBit(p.m.pinb(), uint(pin)), nil
}

var _ Board = (*Mock)(nil)
