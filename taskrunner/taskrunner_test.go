// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package taskrunner

import "testing"

func TestRegisterFillsFirstEmptySlot(t *testing.T) {
	r := New()

	for i := 0; i < Slots; i++ {
		if !r.Register(func() {}) {
			t.Fatalf("Register failed on slot %d, expected room for %d", i, Slots)
		}
	}

	if r.Register(func() {}) {
		t.Fatalf("Register on a full registry should return false")
	}
}

func TestLenCountsRegistered(t *testing.T) {
	r := New()

	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}

	r.Register(func() {})
	r.Register(func() {})

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
}

func TestRunOnceInvokesAtMostOneCallback(t *testing.T) {
	r := New()

	var calls []int
	r.Register(func() { calls = append(calls, 0) })
	r.Register(func() { calls = append(calls, 1) })

	if ran := r.RunOnce(); !ran {
		t.Fatalf("RunOnce() = false, want true")
	}
	if len(calls) != 1 {
		t.Fatalf("expected exactly one callback invoked, got %v", calls)
	}
}

func TestRunOnceRoundRobins(t *testing.T) {
	r := New()

	var calls []int
	r.Register(func() { calls = append(calls, 0) })
	r.Register(func() { calls = append(calls, 1) })
	r.Register(func() { calls = append(calls, 2) })

	for i := 0; i < 3; i++ {
		r.RunOnce()
	}

	if len(calls) != 3 || calls[0] != 0 || calls[1] != 1 || calls[2] != 2 {
		t.Fatalf("calls = %v, want [0 1 2] in round-robin order", calls)
	}
}

func TestRunOnceSkipsEmptySlotsAfterGap(t *testing.T) {
	r := New()

	var calls []int
	r.tasks[0] = func() { calls = append(calls, 0) }
	r.tasks[3] = func() { calls = append(calls, 3) }

	r.RunOnce()
	r.RunOnce()

	if len(calls) != 2 || calls[0] != 0 || calls[1] != 3 {
		t.Fatalf("calls = %v, want [0 3]", calls)
	}
}

func TestRunOnceOnEmptyRegistryReturnsFalse(t *testing.T) {
	r := New()

	if ran := r.RunOnce(); ran {
		t.Fatalf("RunOnce() on an empty registry should return false")
	}
}

func TestRunOnceWrapsAroundAllSlots(t *testing.T) {
	r := New()

	count := 0
	r.tasks[Slots-1] = func() { count++ }
	r.cursor = Slots - 1

	if ran := r.RunOnce(); !ran || count != 1 {
		t.Fatalf("expected the last slot's task to run via wraparound, count=%d ran=%v", count, ran)
	}
}
