package txengine

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kestrel-os/kestrel/journal"
)

type fakeClock struct {
	ticks, faults uint64
}

func (c *fakeClock) Snapshot() (uint64, uint64) {
	return c.ticks, c.faults
}

// advancingClock ticks forward by one on every Nth call to Snapshot, so
// selfTest's spin loop observes a tick advance quickly instead of
// exhausting its bound.
type advancingClock struct {
	calls    int
	tickEach int
	ticks    uint64
	faults   uint64
}

func (c *advancingClock) Snapshot() (uint64, uint64) {
	c.calls++
	if c.calls%c.tickEach == 0 {
		c.ticks++
	}
	return c.ticks, c.faults
}

type fakeTrimmer struct {
	err     error
	trimmed uint64
}

func (f *fakeTrimmer) Trim(bytes uint64) error {
	f.trimmed = bytes
	return f.err
}

func newTestEngine(buf *bytes.Buffer, clock Clock, trimmer CacheTrimmer) *Engine {
	sink := journal.NewSink(buf)
	return New(clock, sink, trimmer)
}

func TestProposeHappyPathSetQuantum(t *testing.T) {
	var buf bytes.Buffer
	e := newTestEngine(&buf, &advancingClock{tickEach: 2}, nil)
	e.SetSystemReady()

	out := e.Propose(Action{Kind: KindSetQuantum, Param1: 2000})
	if out.Result != ResultAccepted {
		t.Fatalf("Result = %d, want ResultAccepted", out.Result)
	}
	if e.ReadQuantum() != 2000 {
		t.Fatalf("ReadQuantum = %d, want 2000", e.ReadQuantum())
	}

	want := "seq=0 INTENT kind=1\nseq=0 APPLY_OK kind=1\n"
	if buf.String() != want {
		t.Fatalf("journal = %q, want %q", buf.String(), want)
	}
}

func TestProposeOutOfRangeQuantum(t *testing.T) {
	var buf bytes.Buffer
	e := newTestEngine(&buf, &fakeClock{}, nil)
	e.SetSystemReady()

	out := e.Propose(Action{Kind: KindSetQuantum, Param1: 60000})
	if out.Result != ResultRejected {
		t.Fatalf("Result = %d, want ResultRejected", out.Result)
	}
	if e.ReadQuantum() != defaultQuantum {
		t.Fatalf("quantum mutated by rejected action")
	}
	if buf.Len() == 0 || buf.String()[len("seq=0 ")] != 'R' {
		t.Fatalf("journal = %q, want a REJECT line", buf.String())
	}
}

func TestProposeUnsupportedKind(t *testing.T) {
	var buf bytes.Buffer
	e := newTestEngine(&buf, &fakeClock{}, nil)
	e.SetSystemReady()

	out := e.Propose(Action{Kind: KindMigrateTask, Param1: 0})
	if out.Result != ResultRejected {
		t.Fatalf("Result = %d, want ResultRejected", out.Result)
	}
	if e.ReadQuantum() != defaultQuantum {
		t.Fatalf("quantum mutated by unsupported-kind action")
	}
}

func TestProposeNotReady(t *testing.T) {
	var buf bytes.Buffer
	e := newTestEngine(&buf, &fakeClock{}, nil)

	out := e.Propose(Action{Kind: KindSetQuantum, Param1: 2000})
	if out.Result != ResultRejected {
		t.Fatalf("Result = %d, want ResultRejected", out.Result)
	}
	if e.ReadQuantum() != defaultQuantum {
		t.Fatalf("quantum mutated while engine not ready")
	}

	want := "seq=0 REJECT kind=1\n"
	if buf.String() != want {
		t.Fatalf("journal = %q, want %q", buf.String(), want)
	}
}

func TestProposeSelftestFailureRollsBack(t *testing.T) {
	var buf bytes.Buffer
	// tickEach huge relative to selfTestMaxSpins: no tick will ever be
	// observed within the bound, so selfTest must fail.
	e := newTestEngine(&buf, &advancingClock{tickEach: 1 << 30}, nil)
	e.selfTestMaxSpins = 100
	e.SetSystemReady()

	before := e.ReadQuantum()

	out := e.Propose(Action{Kind: KindSetQuantum, Param1: 2000})
	if out.Result != ResultSelftestFailed {
		t.Fatalf("Result = %d, want ResultSelftestFailed", out.Result)
	}
	if e.ReadQuantum() != before {
		t.Fatalf("ReadQuantum = %d, want rollback to %d", e.ReadQuantum(), before)
	}
}

// faultingClock never advances ticks and reports one page fault on every
// Snapshot after the first, so selfTest sees the fault count move on its
// very first poll.
type faultingClock struct {
	calls int
}

func (c *faultingClock) Snapshot() (uint64, uint64) {
	c.calls++
	if c.calls > 1 {
		return 0, 1
	}
	return 0, 0
}

func TestProposeSelftestFailsImmediatelyOnFault(t *testing.T) {
	var buf bytes.Buffer
	clock := &faultingClock{}
	e := newTestEngine(&buf, clock, nil)
	e.SetSystemReady()

	before := e.ReadQuantum()
	out := e.Propose(Action{Kind: KindSetQuantum, Param1: 2000})
	if out.Result != ResultSelftestFailed {
		t.Fatalf("Result = %d, want ResultSelftestFailed", out.Result)
	}
	if e.ReadQuantum() != before {
		t.Fatalf("quantum not rolled back after fault")
	}
	if clock.calls != 2 {
		t.Fatalf("selfTest polled the clock %d times, want 2 (fail on the first fault)", clock.calls)
	}
}

func TestProposeTrimCacheInvokesTrimmer(t *testing.T) {
	var buf bytes.Buffer
	trimmer := &fakeTrimmer{}
	e := newTestEngine(&buf, &advancingClock{tickEach: 2}, trimmer)
	e.SetSystemReady()

	out := e.Propose(Action{Kind: KindTrimCache, Param1: 4096})
	if out.Result != ResultAccepted {
		t.Fatalf("Result = %d, want ResultAccepted", out.Result)
	}
	if trimmer.trimmed != 4096 {
		t.Fatalf("trimmer.trimmed = %d, want 4096", trimmer.trimmed)
	}
}

func TestProposeExecuteFailure(t *testing.T) {
	var buf bytes.Buffer
	trimmer := &fakeTrimmer{err: errors.New("trim failed")}
	e := newTestEngine(&buf, &advancingClock{tickEach: 2}, trimmer)
	e.SetSystemReady()

	out := e.Propose(Action{Kind: KindTrimCache, Param1: 4096})
	if out.Result != ResultExecuteFailed {
		t.Fatalf("Result = %d, want ResultExecuteFailed", out.Result)
	}
}

func TestSeqMonotonicallyIncreases(t *testing.T) {
	var buf bytes.Buffer
	e := newTestEngine(&buf, &advancingClock{tickEach: 2}, nil)
	e.SetSystemReady()

	e.Propose(Action{Kind: KindSetQuantum, Param1: 1000})
	e.Propose(Action{Kind: KindSetQuantum, Param1: 2000})

	if e.Seq() != 2 {
		t.Fatalf("Seq() = %d, want 2", e.Seq())
	}
}
