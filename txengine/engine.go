// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package txengine

import (
	"sync"
	"sync/atomic"

	"github.com/kestrel-os/kestrel/journal"
)

// Clock is the capability the engine's self-test needs: a paired read
// of the monotonic tick and page-fault counters. Satisfied by
// *timebase.Counters; kept as a narrow interface so txengine does not
// import timebase directly.
type Clock interface {
	Snapshot() (ticks, faults uint64)
}

// CacheTrimmer is the pluggable effect TrimCache invokes, decoupling
// the engine from real cache hardware the same way the agent is
// decoupled from the engine via Proposer.
type CacheTrimmer interface {
	Trim(bytes uint64) error
}

// Engine is the action transaction engine. Zero value is not usable;
// construct with New.
type Engine struct {
	mu sync.Mutex // the single apply mutex

	quantum uint32 // guarded by mu

	seq   uint64 // atomic
	ready int32  // atomic bool

	clock   Clock
	sink    *journal.Sink
	trimmer CacheTrimmer

	selfTestMaxSpins int
}

const (
	defaultQuantum       = 1000
	defaultSelfTestSpins = 50000
)

// New constructs an Engine. clock and sink must not be nil; trimmer may be
// nil if TrimCache actions are never proposed.
func New(clock Clock, sink *journal.Sink, trimmer CacheTrimmer) *Engine {
	return &Engine{
		quantum:          defaultQuantum,
		clock:            clock,
		sink:             sink,
		trimmer:          trimmer,
		selfTestMaxSpins: defaultSelfTestSpins,
	}
}

// SetSystemReady flips the process-wide latch: monotonic, idempotent.
func (e *Engine) SetSystemReady() {
	atomic.StoreInt32(&e.ready, 1)
}

// SystemReady reports whether SetSystemReady has been called.
func (e *Engine) SystemReady() bool {
	return atomic.LoadInt32(&e.ready) == 1
}

// ReadQuantum returns the current scheduler quantum in microseconds.
func (e *Engine) ReadQuantum() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quantum
}

// Seq returns how many sequence numbers Propose has assigned so far, which
// is also the number the next Propose call will assign (0 if Propose has
// never been called).
func (e *Engine) Seq() uint64 {
	return atomic.LoadUint64(&e.seq)
}

// Propose is the only entry point into the engine: it assigns a
// sequence number, validates, and, for accepted actions, snapshots,
// applies, self-tests, and commits or rolls back, journaling every
// transition.
func (e *Engine) Propose(a Action) Outcome {
	seq := atomic.AddUint64(&e.seq, 1) - 1

	if !e.SystemReady() {
		e.sink.Record(seq, journal.Reject, journal.KV{Key: "kind", Value: a.Kind})
		return Outcome{Result: ResultRejected}
	}

	if !supportedKind(a.Kind) || !validParams(a) {
		e.sink.Record(seq, journal.Reject, journal.KV{Key: "kind", Value: a.Kind})
		return Outcome{Result: ResultRejected}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.quantum

	e.sink.Record(seq, journal.Intent, journal.KV{Key: "kind", Value: a.Kind})

	if err := e.execute(a); err != nil {
		e.sink.Record(seq, journal.ApplyFail,
			journal.KV{Key: "kind", Value: a.Kind},
			journal.KV{Key: "result", Value: ResultExecuteFailed},
		)
		return Outcome{Result: ResultExecuteFailed}
	}

	if !e.selfTest() {
		e.quantum = before
		e.sink.Record(seq, journal.ApplyFail,
			journal.KV{Key: "kind", Value: a.Kind},
			journal.KV{Key: "result", Value: ResultSelftestFailed},
		)
		return Outcome{Result: ResultSelftestFailed}
	}

	e.sink.Record(seq, journal.ApplyOK, journal.KV{Key: "kind", Value: a.Kind})

	return Outcome{Result: ResultAccepted}
}

// execute applies the action's effect. Caller holds mu.
func (e *Engine) execute(a Action) error {
	switch a.Kind {
	case KindSetQuantum:
		e.quantum = uint32(a.Param1)
		return nil
	case KindTrimCache:
		if e.trimmer == nil {
			return nil
		}
		return e.trimmer.Trim(a.Param1)
	default:
		// unreachable: supportedKind already filtered this out.
		return nil
	}
}

// selfTest busy-spins (bounded by selfTestMaxSpins) waiting for at least
// one timer tick to advance with zero page faults observed in the
// interim.
func (e *Engine) selfTest() bool {
	startTicks, startFaults := e.clock.Snapshot()

	for i := 0; i < e.selfTestMaxSpins; i++ {
		ticks, faults := e.clock.Snapshot()

		if faults != startFaults {
			return false
		}
		if ticks != startTicks {
			return true
		}
	}

	return false
}
