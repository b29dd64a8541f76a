package output_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/micro-nova/pulsemix/internal/output"
)

type edge struct {
	at   uint64
	ch   int
	high bool
}

// sim is a tick-level model of the compare timer with AVR flag semantics:
// overflow when the counter wraps to zero, compare match when it reaches the
// compare register, overflow vector serviced before compare.
type sim struct {
	t  *testing.T
	mu sync.Mutex

	now        uint64
	tcnt, ocr  uint8
	counting   bool
	ovfEnabled bool
	cmpEnabled bool
	ovfFlag    bool
	cmpFlag    bool

	lastOverflow uint64
	margin       uint8
	pins         [2]bool
	edges        []edge
	clashes      int
	early        int

	gen *output.Generator
}

func newSim(t *testing.T, period uint16, margin uint8) *sim {
	t.Helper()
	s := &sim{t: t, margin: margin}
	g, err := output.NewGenerator(s, s, &s.mu, output.Config{Period: period, Margin: margin, Poll: time.Millisecond})
	require.NoError(t, err)
	s.gen = g
	return s
}

func (s *sim) Load(start, compare uint8) {
	s.tcnt, s.ocr = start, compare
	s.counting = true
	s.lastOverflow = s.now
}

func (s *sim) Enable(overflow, compare bool) {
	if overflow && !s.ovfEnabled {
		s.ovfFlag = false
	}
	if compare && !s.cmpEnabled {
		s.cmpFlag = false
	}
	s.ovfEnabled, s.cmpEnabled = overflow, compare
}

func (s *sim) Stop() {
	s.counting = false
	s.ovfEnabled, s.cmpEnabled = false, false
}

func (s *sim) SetOutput(ch int, high bool) {
	if s.pins[ch] != high {
		s.edges = append(s.edges, edge{at: s.now, ch: ch, high: high})
	}
	s.pins[ch] = high
}

func (s *sim) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now++
	if !s.counting {
		return
	}
	s.tcnt++
	ovf := s.tcnt == 0
	cmp := s.tcnt == s.ocr
	if ovf {
		s.ovfFlag = true
	}
	if cmp {
		s.cmpFlag = true
	}
	if ovf && cmp {
		s.clashes++
	}
	if s.ovfEnabled && s.ovfFlag {
		s.ovfFlag = false
		s.lastOverflow = s.now
		s.gen.OnOverflow()
	}
	if s.cmpEnabled && s.cmpFlag {
		s.cmpFlag = false
		if s.now-s.lastOverflow < uint64(s.margin) && s.tcnt < s.margin {
			s.early++
		}
		s.gen.OnCompare()
	}
}

// runPeriods ticks until n more periods have completed.
func (s *sim) runPeriods(n uint32, limit uint64) {
	s.t.Helper()
	target := s.gen.Completed() + n
	for i := uint64(0); s.gen.Completed() != target; i++ {
		require.Less(s.t, i, limit, "generator stalled")
		s.tick()
	}
}

// pulses returns the widths of completed high pulses on ch, in order.
func (s *sim) pulses(ch int) []uint64 {
	var out []uint64
	var rise uint64
	for _, e := range s.edges {
		if e.ch != ch {
			continue
		}
		if e.high {
			rise = e.at
		} else {
			out = append(out, e.at-rise)
		}
	}
	return out
}

func (s *sim) rises(ch int) []uint64 {
	var out []uint64
	for _, e := range s.edges {
		if e.ch == ch && e.high {
			out = append(out, e.at)
		}
	}
	return out
}

func TestPlan(t *testing.T) {
	tests := []struct {
		width uint16
		want  output.Program
	}{
		{0, output.Program{Start: 50, Compare: 50, High: 0}},
		{30, output.Program{Start: 20, Compare: 50, High: 0}},
		{50, output.Program{Start: 0, Compare: 50, High: 0}},
		{200, output.Program{Start: 0, Compare: 200, High: 0}},
		{256, output.Program{Start: 50, Compare: 50, High: 1}},
		{1290, output.Program{Start: 40, Compare: 50, High: 5}},
		{1500, output.Program{Start: 0, Compare: 220, High: 5}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, output.Plan(tt.width, 50), "width %d", tt.width)
	}
}

func TestPlanFullRange(t *testing.T) {
	for _, margin := range []uint8{1, 50, 128, 255} {
		for w := 0; w <= 0xFFFF; w++ {
			p := output.Plan(uint16(w), margin)
			require.Equal(t, uint32(w), p.Elapsed(), "width %d margin %d", w, margin)
			require.GreaterOrEqual(t, p.Compare, p.Start)
			// The final compare never shares a tick with the overflow that
			// precedes it.
			require.GreaterOrEqual(t, p.Compare, margin, "width %d margin %d", w, margin)
		}
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, [2]uint16{1500, 1700}, output.Clamp([2]uint16{1500, 1700}, 20000, 50))
	assert.Equal(t, [2]uint16{19950, 0}, output.Clamp([2]uint16{30000, 1700}, 20000, 50))
	assert.Equal(t, [2]uint16{19000, 950}, output.Clamp([2]uint16{19000, 1700}, 20000, 50))
}

func TestNewGeneratorValidates(t *testing.T) {
	s := &sim{}
	_, err := output.NewGenerator(s, s, &s.mu, output.Config{Period: 20000})
	assert.Error(t, err)
	_, err = output.NewGenerator(s, s, &s.mu, output.Config{Period: 60, Margin: 50})
	assert.Error(t, err)
}

func TestGeneratorEmitsBothPulses(t *testing.T) {
	s := newSim(t, 20000, 50)
	s.gen.Start([2]uint16{1500, 1700})
	s.runPeriods(3, 100000)

	assert.Equal(t, []uint64{1500, 1500, 1500}, s.pulses(0))
	assert.Equal(t, []uint64{1700, 1700, 1700}, s.pulses(1))
	assert.Equal(t, []uint64{0, 20000, 40000, 60000}, s.rises(0))
	assert.Equal(t, []uint64{1500, 21500, 41500}, s.rises(1))
	assert.Zero(t, s.clashes)
	assert.Zero(t, s.early)
}

func TestGeneratorGlitchFreeAcrossWidthRange(t *testing.T) {
	const period, margin = 2000, 50
	for w := 0; w < period; w++ {
		s := newSim(t, period, margin)
		widths := output.Clamp([2]uint16{uint16(w), uint16(period - w)}, period, margin)
		s.gen.Start([2]uint16{uint16(w), uint16(period - w)})
		s.runPeriods(2, 3*period)

		require.Zero(t, s.clashes, "width %d", w)
		require.Zero(t, s.early, "width %d", w)
		for ch := range widths {
			for _, got := range s.pulses(ch) {
				require.Equal(t, uint64(widths[ch]), got, "width %d ch %d", w, ch)
			}
			if widths[ch] == 0 {
				require.Empty(t, s.rises(ch), "width %d ch %d", w, ch)
			}
		}
		require.Equal(t, uint64(2*period), s.now, "width %d: two periods exactly", w)
	}
}

func TestZeroWidthsStillKeepPeriod(t *testing.T) {
	s := newSim(t, 20000, 50)
	s.gen.Start([2]uint16{0, 0})
	s.runPeriods(2, 100000)
	assert.Empty(t, s.edges)
	assert.Equal(t, uint64(40000), s.now)
	assert.Equal(t, output.Stage2, s.gen.Stage())
}

func TestSetWidthsTakesEffectNextPeriod(t *testing.T) {
	s := newSim(t, 20000, 50)
	s.gen.Start([2]uint16{1000, 1000})
	for i := 0; i < 500; i++ {
		s.tick()
	}
	s.gen.SetWidths([2]uint16{1200, 1300})
	s.gen.SetWidths([2]uint16{1400, 1600}) // last value wins
	assert.Equal(t, [2]uint16{1000, 1000}, s.gen.Widths())

	s.runPeriods(2, 100000)
	assert.Equal(t, []uint64{1000, 1400}, s.pulses(0))
	assert.Equal(t, []uint64{1000, 1600}, s.pulses(1))
	assert.Equal(t, [2]uint16{1400, 1600}, s.gen.Widths())
}

func TestSetWidthsClampsToPeriod(t *testing.T) {
	s := newSim(t, 2000, 50)
	s.gen.Start([2]uint16{1000, 1000})
	s.gen.SetWidths([2]uint16{1500, 1500})
	s.runPeriods(2, 10000)
	assert.Equal(t, [2]uint16{1500, 450}, s.gen.Widths())
}

func TestStopMakesOutputsInert(t *testing.T) {
	s := newSim(t, 20000, 50)
	s.gen.Start([2]uint16{1500, 1500})
	for i := 0; i < 700; i++ {
		s.tick()
	}
	require.True(t, s.pins[0])
	s.gen.Stop()
	assert.False(t, s.gen.Running())
	assert.Equal(t, [2]bool{false, false}, s.pins)

	n := len(s.edges)
	for i := 0; i < 50000; i++ {
		s.tick()
	}
	assert.Len(t, s.edges, n)
	assert.Zero(t, s.gen.Completed())
}

func TestWaitCompletion(t *testing.T) {
	s := newSim(t, 2000, 50)
	s.gen.Start([2]uint16{1000, 500})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.gen.WaitCompletion(ctx, s.gen.Completed())
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "no ticks, no completion")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for s.gen.Completed() == 0 {
			s.tick()
		}
	}()
	require.NoError(t, s.gen.WaitCompletion(context.Background(), 0))
	<-done
	assert.NoError(t, s.gen.WaitCompletion(context.Background(), 0), "already past")
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "stage0", output.Stage0.String())
	assert.Equal(t, "stage2", output.Stage2.String())
	assert.Equal(t, "unknown", output.Stage(9).String())
}
