// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package agent implements the per-tick AI decision step:
// sample telemetry, score with the fixed-point model (or its fallback),
// and submit a scheduler/cache tuning action to the transaction engine.
package agent

import (
	"github.com/kestrel-os/kestrel/aimodel"
	"github.com/kestrel-os/kestrel/telemetry"
	"github.com/kestrel-os/kestrel/txengine"
)

// Proposer is the capability the agent depends on to submit actions;
// *txengine.Engine satisfies it. The indirection keeps the agent's tests
// independent of the transaction engine.
type Proposer interface {
	Propose(a txengine.Action) txengine.Outcome
}

// Thresholds controlling the trim-vs-retune decision. Vars rather than
// consts so the bootstrap can override them before the first Step.
var (
	LowFreeKB      uint64 = 8192
	TrimCacheBytes uint64 = 1024 * 1024

	quantumBase  = 1000
	quantumScale = 20
	quantumMinUS = 100
	quantumMaxUS = 50000
)

const scratchSize = 1024

// Agent holds the per-step state of the decision loop: the model header,
// the model's payload, the telemetry sampler (which keeps the previous
// tick/fault counts), and reusable inference scratch space. Scratch space
// is initialized lazily on the first Step call if LoadModel has not
// already set it up.
type Agent struct {
	proposer Proposer
	sampler  *telemetry.Sampler

	header   *aimodel.Header
	payload  []byte
	hasModel bool

	scratchA []int8
	scratchB []int8

	initialized bool
}

// New constructs an Agent wired to proposer for action submission and
// sampler for telemetry.
func New(proposer Proposer, sampler *telemetry.Sampler) *Agent {
	return &Agent{proposer: proposer, sampler: sampler}
}

// LoadModel attaches a validated model blob. Calling it more than once
// replaces the previous model; calling it with a header whose dtype is
// unsupported leaves the agent on the fallback heuristic path.
func (a *Agent) LoadModel(hdr *aimodel.Header, payload []byte) {
	a.header = hdr
	a.payload = payload
	a.hasModel = hdr != nil
	a.initScratch(int(hdr.Hidden))
}

func (a *Agent) initScratch(hidden int) {
	if hidden < 1 {
		hidden = 1
	}
	size := hidden
	if size < scratchSize {
		size = scratchSize
	}
	a.scratchA = make([]int8, size)
	a.scratchB = make([]int8, size)
	a.initialized = true
}

// Step runs one agent tick. runq reports the current
// runqueue length; nowTicks/nowPF/freeKB are the raw counters the
// telemetry sampler turns into rates. The outcome of the submitted action
// is discarded; the journal is the audit trail.
func (a *Agent) Step(runq func() int, nowTicks, nowPF, freeKB uint64) {
	if !a.initialized {
		a.initScratch(0)
	}

	snap := a.sampler.Sample(runq, nowTicks, nowPF, freeKB)

	score := a.score(snap)

	action, ok := a.decide(snap, score)
	if !ok {
		return
	}

	a.proposer.Propose(action)
}

func (a *Agent) score(snap telemetry.Snapshot) int8 {
	if !a.hasModel {
		return aimodel.Fallback(snap.RunQ, snap.IRQRate, snap.PFRate, snap.FreeKB)
	}

	x := a.featuresFrom(snap)

	s, err := aimodel.Infer(a.header, a.payload, x, a.scratchA, a.scratchB)
	if err != nil {
		return aimodel.Fallback(snap.RunQ, snap.IRQRate, snap.PFRate, snap.FreeKB)
	}
	return s
}

// featuresFrom maps the telemetry snapshot onto the model's input feature
// vector. The model is agnostic to what the features mean; the agent is
// the only place that knows this encoding.
func (a *Agent) featuresFrom(snap telemetry.Snapshot) []int8 {
	hidden := int(a.header.Hidden)
	x := make([]int8, hidden)
	if hidden > 0 {
		x[0] = clampInt(snap.RunQ)
	}
	if hidden > 1 {
		x[1] = clampUint(snap.IRQRate)
	}
	if hidden > 2 {
		x[2] = clampUint(snap.PFRate)
	}
	if hidden > 3 {
		x[3] = clampUint(snap.FreeKB / 1024)
	}
	return x
}

func clampInt(v int) int8 {
	if v > 127 {
		return 127
	}
	if v < -128 {
		return -128
	}
	return int8(v)
}

func clampUint(v uint64) int8 {
	if v > 127 {
		return 127
	}
	return int8(v)
}

// decide selects the action for this tick: trim the cache under memory
// pressure, otherwise retune the scheduler quantum from the score. The
// bool is false when the agent has nothing to propose (an action
// carrying FlagNeedsManualConfirm lands here too, though no path sets it
// today).
func (a *Agent) decide(snap telemetry.Snapshot, score int8) (txengine.Action, bool) {
	var act txengine.Action

	if snap.FreeKB < LowFreeKB || snap.PFRate > 0 {
		act = txengine.Action{
			Kind:   txengine.KindTrimCache,
			Flags:  txengine.FlagRequiresSnapshot,
			Param1: TrimCacheBytes,
		}
	} else {
		q := quantumBase + int(score)*quantumScale
		if q < quantumMinUS {
			q = quantumMinUS
		}
		if q > quantumMaxUS {
			q = quantumMaxUS
		}
		act = txengine.Action{
			Kind:   txengine.KindSetQuantum,
			Flags:  txengine.FlagRequiresSnapshot,
			Param1: uint64(q),
		}
	}

	if act.Flags&txengine.FlagNeedsManualConfirm != 0 {
		return txengine.Action{}, false
	}

	return act, true
}
