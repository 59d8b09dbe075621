// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package trb

// Ring is the shared buffer view a producer and consumer walk: a
// circular array of TRB-sized slots. On command and transfer rings the
// last slot holds a Link TRB; a single-segment event ring has no Link
// TRB and uses every slot. The backing buf is a permanent,
// physically-addressable DMA region obtained from the physical
// allocator and never freed.
type Ring struct {
	buf  []byte
	base uint64
	cap  int // total slots, including the trailing Link slot
}

// NewRing wraps buf (which must be at least cap*trb.Size bytes) as a ring
// of cap total slots whose physical base address is base.
func NewRing(buf []byte, base uint64, cap int) *Ring {
	return &Ring{buf: buf, base: base, cap: cap}
}

// Capacity returns the total slot count.
func (r *Ring) Capacity() int { return r.cap }

// Usable returns the number of slots available for data TRBs on a
// Link-terminated ring.
func (r *Ring) Usable() int { return r.cap - 1 }

// Base returns the ring's physical base address.
func (r *Ring) Base() uint64 { return r.base }

func (r *Ring) slotAt(i int) []byte {
	return r.buf[i*Size : i*Size+Size]
}

func (r *Ring) readAt(i int) TRB {
	return Decode(r.slotAt(i))
}

func (r *Ring) writeAt(i int, t TRB) {
	t.Encode(r.slotAt(i))
}

// Producer is a ring's sole writer: the driver for
// command and transfer rings. It owns (enqueue_index, cycle_state).
type Producer struct {
	ring  *Ring
	index int
	cycle bool
}

// NewProducer creates a producer starting at slot 0 with cycle state 1.
// The Link TRB is written into the last slot immediately so a fresh
// ring is self-consistent before any enqueue.
func NewProducer(r *Ring) *Producer {
	p := &Producer{ring: r, index: 0, cycle: true}
	r.writeAt(r.cap-1, Link(r.base, p.cycle))
	return p
}

// Index returns the current enqueue index.
func (p *Producer) Index() int { return p.index }

// Cycle returns the producer's current cycle state.
func (p *Producer) Cycle() bool { return p.cycle }

// Enqueue writes t (with the producer's current cycle bit) at the
// current enqueue index, returns its physical address, and advances.
// When the index reaches the Link slot, the Link TRB is rewritten with
// the pre-toggle cycle bit and the producer wraps to slot 0 with its
// cycle flipped.
func (p *Producer) Enqueue(t TRB) (addr uint64) {
	t = WithCycle(t, p.cycle)
	p.ring.writeAt(p.index, t)
	addr = p.ring.base + uint64(p.index*Size)

	p.index++
	if p.index == p.ring.cap-1 {
		p.ring.writeAt(p.ring.cap-1, Link(p.ring.base, p.cycle))
		p.index = 0
		p.cycle = !p.cycle
	}

	return addr
}

// Consumer walks a ring reading TRBs a producer has written; an entry
// whose cycle bit differs from the consumer's cycle state is not yet
// pending. It owns (dequeue_index, cycle_state), starting in lockstep
// with a fresh producer's initial state.
type Consumer struct {
	ring  *Ring
	index int
	cycle bool
}

// NewConsumer creates a consumer starting at slot 0 with cycle state 1,
// matching a freshly initialized Producer.
func NewConsumer(r *Ring) *Consumer {
	return &Consumer{ring: r, index: 0, cycle: true}
}

// Index returns the current dequeue index.
func (c *Consumer) Index() int { return c.index }

// Cycle returns the consumer's current cycle state.
func (c *Consumer) Cycle() bool { return c.cycle }

// Next returns the next pending TRB, or ok=false if none is pending: an
// entry is pending iff its cycle bit matches the consumer's cycle
// state. Link TRBs are transparent to callers: crossing one toggles the
// consumer's cycle state and advances straight to the first data TRB of
// the next lap.
func (c *Consumer) Next() (t TRB, ok bool) {
	for {
		entry := c.ring.readAt(c.index)
		if entry.Cycle() != c.cycle {
			return TRB{}, false
		}

		if entry.Type() == TypeLink {
			c.index = 0
			c.cycle = !c.cycle
			continue
		}

		// The index may now rest on the Link slot; the next call
		// crosses it, keeping the wrap logic in one place.
		c.index++

		return entry, true
	}
}

// SegmentConsumer walks a single-segment event ring. Event rings carry
// no Link TRB: the controller produces into every slot and wraps from
// the last slot straight to slot 0, toggling its cycle, so the consumer
// mirrors that with index arithmetic instead of waiting for a Link TRB
// that is never written.
type SegmentConsumer struct {
	ring  *Ring
	index int
	cycle bool
}

// NewSegmentConsumer creates a segment consumer starting at slot 0 with
// cycle state 1, matching a freshly reset controller producer.
func NewSegmentConsumer(r *Ring) *SegmentConsumer {
	return &SegmentConsumer{ring: r, index: 0, cycle: true}
}

// Index returns the current dequeue index.
func (c *SegmentConsumer) Index() int { return c.index }

// Cycle returns the consumer's current cycle state.
func (c *SegmentConsumer) Cycle() bool { return c.cycle }

// Next returns the next pending TRB, or ok=false if none is pending: an
// entry is pending iff its cycle bit matches the consumer's cycle
// state. Advancing past the last slot wraps to slot 0 and toggles the
// consumer's cycle.
func (c *SegmentConsumer) Next() (t TRB, ok bool) {
	entry := c.ring.readAt(c.index)
	if entry.Cycle() != c.cycle {
		return TRB{}, false
	}

	c.index++
	if c.index == c.ring.cap {
		c.index = 0
		c.cycle = !c.cycle
	}

	return entry, true
}
