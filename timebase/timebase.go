// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package timebase implements the two monotonic counters the rest of the
// kernel treats as ground truth for elapsed time and memory-safety
// faults: timer ticks and page faults, both advanced by their respective
// ISR with relaxed ordering and read by arbitrary callers.
package timebase

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Source identifies which hardware clock feeds the tick counter, recorded
// once at Init and purely informational.
type Source int

const (
	// SourcePIT is the legacy programmable interval timer ISR path.
	SourcePIT Source = iota
	// SourceTSC is used when the CPU reports an invariant TSC
	// (golang.org/x/sys/cpu.X86.HasInvariantTSC).
	SourceTSC
)

// Counters holds the kernel's monotonic tick and page-fault counts.
type Counters struct {
	ticks  uint64
	faults uint64
	source Source
}

// New constructs a Counters instance with the given clock source.
func New(source Source) *Counters {
	return &Counters{source: source}
}

// DetectSource probes the running CPU for an invariant TSC
// (golang.org/x/sys/cpu.X86.HasInvariantTSC). The probe only picks a
// label for the logged clock origin; the tick counter itself is always
// advanced by the ISR regardless of which physical clock backs it.
func DetectSource() Source {
	if cpu.X86.HasInvariantTSC {
		return SourceTSC
	}
	return SourcePIT
}

// Source reports which hardware clock feeds TimerTicks.
func (c *Counters) Source() Source {
	return c.source
}

// TickISR increments the tick counter. Called only from the timer
// interrupt handler.
func (c *Counters) TickISR() {
	atomic.AddUint64(&c.ticks, 1)
}

// PageFaultISR increments the page-fault counter. Called only from the
// page-fault interrupt handler.
func (c *Counters) PageFaultISR() {
	atomic.AddUint64(&c.faults, 1)
}

// TimerTicks returns the current tick count.
func (c *Counters) TimerTicks() uint64 {
	return atomic.LoadUint64(&c.ticks)
}

// PageFaults returns the current page-fault count.
func (c *Counters) PageFaults() uint64 {
	return atomic.LoadUint64(&c.faults)
}

// Snapshot returns both counters read together. The pair is not atomic
// as a unit, but each half is a single atomic load.
func (c *Counters) Snapshot() (ticks, faults uint64) {
	return c.TimerTicks(), c.PageFaults()
}
