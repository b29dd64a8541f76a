package mailbox

import "testing"

var (
	oldPair = [2]uint16{0x0102, 0x0304}
	newPair = [2]uint16{0x0506, 0x0708}
)

func TestPairPublishTake(t *testing.T) {
	var p Pair
	if _, ok := p.TryTake(); ok {
		t.Fatal("TryTake() on empty pair returned ok")
	}
	p.Publish([2]uint16{1600, 1400})
	v, ok := p.TryTake()
	if !ok || v != [2]uint16{1600, 1400} {
		t.Fatalf("TryTake() = %v, %v; want [1600 1400], true", v, ok)
	}
	if p.Pending() {
		t.Error("Pending() after take = true")
	}
	p.Publish(oldPair)
	p.Drain()
	if _, ok := p.TryTake(); ok {
		t.Error("TryTake() after Drain returned ok")
	}
}

// A publish landing anywhere inside a take never yields one value from each
// pair, and the new pair stays pending.
func TestPairTakePreemptedByPublish(t *testing.T) {
	for pt := takeSeq; pt <= takeFlag; pt++ {
		var p Pair
		p.Publish(oldPair)
		p.hook = func(at point) {
			if at != pt {
				return
			}
			p.hook = nil
			p.Publish(newPair)
		}
		v, ok := p.TryTake()
		if ok && v != oldPair && v != newPair {
			t.Fatalf("preempted at %d: TryTake() = %#04x, mixed pair", pt, v)
		}
		p.hook = nil
		v, ok = p.TryTake()
		if !ok || v != newPair {
			t.Errorf("preempted at %d: follow-up TryTake() = %#04x, %v; want %#04x, true", pt, v, ok, newPair)
		}
	}
}

// A take that runs while a publish is in flight, including between the two
// values, sees nothing.
func TestPairPublishPreemptedByTake(t *testing.T) {
	for pt := publishBegun; pt <= publishFull; pt++ {
		var p Pair
		p.Publish(oldPair)
		var got [2]uint16
		var gotOK bool
		p.hook = func(at point) {
			if at != pt {
				return
			}
			p.hook = nil
			got, gotOK = p.TryTake()
		}
		p.Publish(newPair)
		if gotOK {
			t.Errorf("take inside publish at %d returned %#04x; want nothing", pt, got)
		}
		v, ok := p.TryTake()
		if !ok || v != newPair {
			t.Errorf("after publish at %d: TryTake() = %#04x, %v; want %#04x, true", pt, v, ok, newPair)
		}
	}
}
