// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package taskrunner implements the cooperative task registry: a
// fixed-capacity array of parameterless callbacks, dispatched one at a
// time in round-robin order with no preemption and no reentrancy guard.
// It is the idle loop's "drain one step" primitive.
package taskrunner

import "sync"

// Slots is the fixed callback capacity.
const Slots = 8

// Task is a parameterless callback.
type Task func()

// Runner is the task registry. All fields are mutated only under mu; the
// same singleton is shared between the registering bootstrap code and the
// idle loop's drain step.
type Runner struct {
	mu     sync.Mutex
	tasks  [Slots]Task
	cursor int
}

// New returns an empty Runner.
func New() *Runner {
	return &Runner{}
}

// Register puts f in the first empty slot and returns false if the
// registry is full.
func (r *Runner) Register(f Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.tasks {
		if r.tasks[i] == nil {
			r.tasks[i] = f
			return true
		}
	}

	return false
}

// Len reports the number of currently registered callbacks.
func (r *Runner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, t := range r.tasks {
		if t != nil {
			n++
		}
	}

	return n
}

// RunOnce rotates the dispatch cursor and invokes at most one present
// callback. ran reports whether a callback was found and invoked; it is
// false only when every slot is empty. The invoked callback runs with
// mu released, so a task may itself call Register or RunOnce without
// deadlocking; there is no reentrancy guard.
func (r *Runner) RunOnce() (ran bool) {
	r.mu.Lock()

	for i := 0; i < Slots; i++ {
		idx := (r.cursor + i) % Slots
		if r.tasks[idx] != nil {
			task := r.tasks[idx]
			r.cursor = (idx + 1) % Slots
			r.mu.Unlock()
			task()
			return true
		}
	}

	r.cursor = (r.cursor + 1) % Slots
	r.mu.Unlock()
	return false
}
