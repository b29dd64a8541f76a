package hardware

// SensePins is the pin access the jumper check needs.
type SensePins interface {
	// Drive configures pin as an output at level.
	Drive(pin int, high bool) error
	// Release configures pin as an input with its pull-up enabled.
	Release(pin int) error
	// Read returns the pin level.
	Read(pin int) (bool, error)
}

// SenseJumper reports whether pins a and b are bridged. a is checked to follow
// its own drive both ways, then released and checked to follow b both ways.
// The jumper counts as installed only if all four checks pass; any pin error
// reads as not installed. Callers restore pin configuration afterwards.
func SenseJumper(p SensePins, a, b int) bool {
	steps := []struct {
		setup func() error
		want  bool
	}{
		{func() error { return first(p.Release(b), p.Drive(a, true)) }, true},
		{func() error { return p.Drive(a, false) }, false},
		{func() error { return first(p.Release(a), p.Drive(b, true)) }, true},
		{func() error { return p.Drive(b, false) }, false},
	}
	for _, s := range steps {
		if err := s.setup(); err != nil {
			return false
		}
		got, err := p.Read(a)
		if err != nil || got != s.want {
			return false
		}
	}
	return true
}

func first(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
