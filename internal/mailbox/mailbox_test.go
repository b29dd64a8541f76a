package mailbox

import (
	"math/rand"
	"sync"
	"testing"
)

const (
	oldValue uint16 = 0x0102
	newValue uint16 = 0x0304
)

func TestEmptyMailbox(t *testing.T) {
	var m Mailbox
	if _, ok := m.TryTake(); ok {
		t.Error("TryTake() on empty mailbox returned ok")
	}
	if m.Pending() {
		t.Error("Pending() on empty mailbox = true")
	}
}

func TestPublishTake(t *testing.T) {
	var m Mailbox
	m.Publish(42)
	if !m.Pending() {
		t.Fatal("Pending() after Publish = false")
	}
	v, ok := m.TryTake()
	if !ok || v != 42 {
		t.Fatalf("TryTake() = %d, %v; want 42, true", v, ok)
	}
	if _, ok := m.TryTake(); ok {
		t.Error("second TryTake() returned ok; value must be consumed once")
	}
}

func TestLastValueWins(t *testing.T) {
	var m Mailbox
	for _, v := range []uint16{1000, 1500, 2000} {
		m.Publish(v)
	}
	v, ok := m.TryTake()
	if !ok || v != 2000 {
		t.Fatalf("TryTake() = %d, %v; want 2000, true", v, ok)
	}
}

func TestDrain(t *testing.T) {
	var m Mailbox
	m.Publish(7)
	m.Drain()
	if _, ok := m.TryTake(); ok {
		t.Error("TryTake() after Drain returned ok")
	}
}

// A publish that lands at any point inside a take must never produce a mixed
// value, and must not be lost.
func TestTakePreemptedByPublish(t *testing.T) {
	for p := takeSeq; p <= takeFlag; p++ {
		var m Mailbox
		m.Publish(oldValue)
		m.hook = func(at point) {
			if at != p {
				return
			}
			m.hook = nil
			m.Publish(newValue)
		}
		v, ok := m.TryTake()
		if ok && v != oldValue && v != newValue {
			t.Fatalf("preempted at %d: TryTake() = %#04x, torn value", p, v)
		}
		m.hook = nil
		v, ok = m.TryTake()
		if !ok || v != newValue {
			t.Errorf("preempted at %d: follow-up TryTake() = %#04x, %v; want %#04x, true", p, v, ok, newValue)
		}
	}
}

// A take that runs while a publish is in flight must see nothing.
func TestPublishPreemptedByTake(t *testing.T) {
	for p := publishBegun; p <= publishFull; p++ {
		var m Mailbox
		m.Publish(oldValue)
		var got uint16
		var gotOK bool
		m.hook = func(at point) {
			if at != p {
				return
			}
			m.hook = nil
			got, gotOK = m.TryTake()
		}
		m.Publish(newValue)
		if gotOK {
			t.Errorf("take inside publish at %d returned %#04x; want nothing", p, got)
		}
		v, ok := m.TryTake()
		if !ok || v != newValue {
			t.Errorf("after publish at %d: TryTake() = %#04x, %v; want %#04x, true", p, v, ok, newValue)
		}
	}
}

// Random interleavings: every returned value must be one that was published
// in full.
func TestRandomPreemption(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var m Mailbox
	published := map[uint16]bool{}
	next := uint16(0x0101)

	for i := 0; i < 20000; i++ {
		preempt := point(rng.Intn(int(takeFlag) + 1))
		if rng.Intn(2) == 0 {
			v := next
			next += 0x0101
			published[v] = true
			m.hook = func(at point) {
				if at == preempt {
					m.hook = nil
					if got, ok := m.TryTake(); ok {
						t.Fatalf("take inside publish returned %#04x", got)
					}
				}
			}
			m.Publish(v)
		} else {
			v := next
			next += 0x0101
			m.hook = func(at point) {
				if at == preempt {
					m.hook = nil
					published[v] = true
					m.Publish(v)
				}
			}
			if got, ok := m.TryTake(); ok && !published[got] {
				t.Fatalf("TryTake() = %#04x which was never fully published", got)
			}
		}
		m.hook = nil
	}
}

func TestConcurrentPublishTake(t *testing.T) {
	var m Mailbox
	const n = 100000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			b := uint16(i & 0xFF)
			m.Publish(b<<8 | b)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		if v, ok := m.TryTake(); ok && v>>8 != v&0xFF {
			t.Fatalf("TryTake() = %#04x, bytes from different publishes", v)
		}
	}
}
