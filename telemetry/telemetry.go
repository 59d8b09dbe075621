// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package telemetry implements the per-tick kernel snapshot
// the AI agent scores: runqueue length, IRQ rate (tick delta), free memory,
// and page-fault rate, all since the previous sample.
package telemetry

// Snapshot is one telemetry sample.
type Snapshot struct {
	RunQ    int
	IRQRate uint64
	FreeKB  uint64
	PFRate  uint64
}

// Sampler holds the previous tick/page-fault counts needed to compute
// deltas on the next Sample call.
type Sampler struct {
	prevTicks uint64
	prevPF    uint64
}

// Sample returns the current snapshot and advances the sampler's internal
// state. runq is supplied by the caller rather than read
// from a global.
func (s *Sampler) Sample(runq func() int, nowTicks, nowPF uint64, freeKB uint64) Snapshot {
	snap := Snapshot{
		RunQ:    runq(),
		IRQRate: saturatingSub(nowTicks, s.prevTicks),
		FreeKB:  freeKB,
		PFRate:  saturatingSub(nowPF, s.prevPF),
	}

	s.prevTicks = nowTicks
	s.prevPF = nowPF

	return snap
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
