package trb

import "testing"

func newTestRing(capSlots int) *Ring {
	buf := make([]byte, capSlots*Size)
	return NewRing(buf, 0x1000, capSlots)
}

func cmdTRB(tag uint64) TRB {
	return TRB{Parameter: tag, Control: ControlField(TypeNoOpCommand, 0, false, false)}
}

// TestRingWrapSequence walks a wrap: ring capacity 4 (3 usable + Link),
// enqueue 5 commands A..E. The consumer observes A(cycle=1), B(1),
// C(1), then crosses the Link (toggling its cycle to 0), then D(0),
// E(0).
func TestRingWrapSequence(t *testing.T) {
	r := newTestRing(4)
	p := NewProducer(r)
	c := NewConsumer(r)

	tags := []uint64{0xA, 0xB, 0xC, 0xD, 0xE}
	wantCycle := []bool{true, true, true, false, false}

	for i, tag := range tags {
		p.Enqueue(cmdTRB(tag))

		got, ok := c.Next()
		if !ok {
			t.Fatalf("entry %d: Next() reported nothing pending", i)
		}
		if got.Parameter != tag {
			t.Fatalf("entry %d: Parameter = %#x, want %#x", i, got.Parameter, tag)
		}
		if got.Cycle() != wantCycle[i] {
			t.Fatalf("entry %d: cycle = %v, want %v", i, got.Cycle(), wantCycle[i])
		}
	}
}

func TestConsumerSeesNothingOnEmptyRing(t *testing.T) {
	r := newTestRing(4)
	NewProducer(r)
	c := NewConsumer(r)

	if _, ok := c.Next(); ok {
		t.Fatalf("Next() on an empty ring reported a pending entry")
	}
}

func TestProducerUsableSlotsExcludesLink(t *testing.T) {
	r := newTestRing(256)
	if r.Usable() != 255 {
		t.Fatalf("Usable() = %d, want 255", r.Usable())
	}
}

func TestEnqueueAddressesAreSlotAligned(t *testing.T) {
	r := newTestRing(4)
	p := NewProducer(r)

	a0 := p.Enqueue(cmdTRB(1))
	a1 := p.Enqueue(cmdTRB(2))

	if a0 != r.Base() {
		t.Fatalf("first enqueue address = %#x, want base %#x", a0, r.Base())
	}
	if a1 != r.Base()+Size {
		t.Fatalf("second enqueue address = %#x, want base+Size", a1)
	}
}

func TestLinkTRBCarriesToggleCycleBit(t *testing.T) {
	r := newTestRing(4)
	NewProducer(r)

	link := r.readAt(3)
	if link.Type() != TypeLink {
		t.Fatalf("slot 3 type = %d, want TypeLink", link.Type())
	}
	if link.Control&(1<<1) == 0 {
		t.Fatalf("Link TRB missing toggle-cycle bit")
	}
}

// TestSegmentConsumerWrapsByIndex covers the event-ring discipline: no
// Link TRB, every slot usable, wrap from the last slot to slot 0 with a
// cycle toggle.
func TestSegmentConsumerWrapsByIndex(t *testing.T) {
	r := newTestRing(4)
	c := NewSegmentConsumer(r)

	for i := 0; i < 4; i++ {
		r.writeAt(i, WithCycle(cmdTRB(uint64(i)), true))
	}

	for i := 0; i < 4; i++ {
		got, ok := c.Next()
		if !ok {
			t.Fatalf("entry %d: Next() reported nothing pending", i)
		}
		if got.Parameter != uint64(i) {
			t.Fatalf("entry %d: Parameter = %#x, want %#x", i, got.Parameter, i)
		}
	}

	if c.Index() != 0 || c.Cycle() {
		t.Fatalf("after full lap: index = %d cycle = %v, want 0/false", c.Index(), c.Cycle())
	}

	// Stale lap-one entries must not read as pending on lap two.
	if _, ok := c.Next(); ok {
		t.Fatalf("stale cycle-1 entry reported pending on the cycle-0 lap")
	}

	r.writeAt(0, WithCycle(cmdTRB(0xAA), false))

	got, ok := c.Next()
	if !ok || got.Parameter != 0xAA {
		t.Fatalf("lap-two entry not consumed: ok=%v Parameter=%#x", ok, got.Parameter)
	}
	if c.Index() != 1 {
		t.Fatalf("index after lap-two entry = %d, want 1", c.Index())
	}
}
