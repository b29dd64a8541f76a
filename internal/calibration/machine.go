package calibration

import "sync"

// State is a calibration step. The sequence is fixed and only moves forward.
type State uint8

const (
	StateHigh0 State = iota // channel 0 held at its high extreme
	StateWait0
	StateLow0 // channel 0 held at its low extreme
	StateWait1
	StateHigh1 // channel 1 high extreme
	StateWait2
	StateLow1 // channel 1 low extreme
	StateWait3
	StateCenter // both controls released to center
	StateDone
)

func (s State) String() string {
	switch s {
	case StateHigh0:
		return "high0"
	case StateLow0:
		return "low0"
	case StateHigh1:
		return "high1"
	case StateLow1:
		return "low1"
	case StateWait0, StateWait1, StateWait2, StateWait3:
		return "wait"
	case StateCenter:
		return "center"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Params sets the sample counts that pace calibration.
type Params struct {
	// StableSamples is how many consecutive samples without a new extreme
	// end an extreme step.
	StableSamples int `yaml:"stable_samples" json:"stable_samples"`
	// WaitSamples is how many samples are discarded between steps while the
	// operator moves the control.
	WaitSamples int `yaml:"wait_samples" json:"wait_samples"`
	// CenterSamples is how many samples are averaged for the mid-points.
	CenterSamples int `yaml:"center_samples" json:"center_samples"`
}

// DefaultParams returns pacing tuned for a 50 Hz frame rate.
func DefaultParams() Params {
	return Params{StableSamples: 100, WaitSamples: 60, CenterSamples: 32}
}

// Status is the complete state of a calibration run.
type Status struct {
	State     State     `json:"-"`
	Ranges    [2]Range  `json:"ranges"`
	Stable    int       `json:"stable"`
	Waited    int       `json:"waited"`
	CenterSum [2]uint32 `json:"-"`
	Centered  int       `json:"centered"`
}

// Effects are the outputs of one transition.
type Effects struct {
	Indicator bool    // desired indicator level
	Persist   *Record // set once, on the transition into StateDone
}

// Begin returns the starting status: no extremes seen yet.
func Begin() Status {
	s := Status{State: StateHigh0}
	for i := range s.Ranges {
		s.Ranges[i] = Range{Min: 0xFFFF}
	}
	return s
}

// Step feeds one frame (a width per channel) to the state machine. It never
// fails and never moves backwards; an operator who never moves a control
// leaves it in the same step indefinitely.
func Step(s Status, frame [2]uint16, p Params) (Status, Effects) {
	switch s.State {
	case StateHigh0, StateHigh1:
		ch := extremeChannel(s.State)
		if v := frame[ch]; v > s.Ranges[ch].Max {
			s.Ranges[ch].Max = v
			s.Stable = 0
		} else {
			s.Stable++
		}
		s = s.settle(p)
		return s, Effects{Indicator: s.State == StateHigh0 || s.State == StateHigh1}

	case StateLow0, StateLow1:
		ch := extremeChannel(s.State)
		if v := frame[ch]; v < s.Ranges[ch].Min {
			s.Ranges[ch].Min = v
			s.Stable = 0
		} else {
			s.Stable++
		}
		s = s.settle(p)
		return s, Effects{Indicator: s.State == StateLow0 || s.State == StateLow1}

	case StateWait0, StateWait1, StateWait2, StateWait3:
		s.Waited++
		if s.Waited >= p.WaitSamples {
			s.Waited = 0
			s.State++
		}
		return s, Effects{Indicator: false}

	case StateCenter:
		for ch, v := range frame {
			s.CenterSum[ch] += uint32(v)
		}
		s.Centered++
		if s.Centered < p.CenterSamples {
			return s, Effects{Indicator: true}
		}
		rec := s.record()
		s.State = StateDone
		return s, Effects{Indicator: true, Persist: &rec}

	default:
		return s, Effects{Indicator: true}
	}
}

// settle advances out of an extreme step once the extreme has held.
func (s Status) settle(p Params) Status {
	if s.Stable > p.StableSamples {
		s.Stable = 0
		s.State++
	}
	return s
}

// record builds the final record from the collected extremes and center
// averages. Inverted extremes are swapped and the mid-point clamped so the
// record always satisfies min <= mid <= max.
func (s Status) record() Record {
	var ranges [2]Range
	for ch, r := range s.Ranges {
		if r.Min > r.Max {
			r.Min, r.Max = r.Max, r.Min
		}
		mid := uint16(s.CenterSum[ch] / uint32(s.Centered))
		r.Mid = min(max(mid, r.Min), r.Max)
		ranges[ch] = r
	}
	return NewRecord(ranges[0], ranges[1])
}

func extremeChannel(s State) int {
	if s == StateHigh1 || s == StateLow1 {
		return 1
	}
	return 0
}

// Machine holds a calibration run for the main loop and lets other goroutines
// read its progress.
type Machine struct {
	mu     sync.Mutex
	params Params
	status Status
}

// NewMachine returns a machine at the start of calibration.
func NewMachine(p Params) *Machine {
	return &Machine{params: p, status: Begin()}
}

// Feed advances the machine by one frame.
func (m *Machine) Feed(frame [2]uint16) Effects {
	m.mu.Lock()
	defer m.mu.Unlock()
	var fx Effects
	m.status, fx = Step(m.status, frame, m.params)
	return fx
}

// Status returns a copy of the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Done reports whether calibration has finished.
func (m *Machine) Done() bool {
	return m.Status().State == StateDone
}
