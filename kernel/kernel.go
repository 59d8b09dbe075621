// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package kernel wires the subsystems into the boot sequence:
// initialize the allocator, counters, and journal, attach the AI agent
// if an initrd-located model blob is present, bring up the xHCI
// controller, flip the system-ready latch, and run the idle loop that
// polls the event ring, drains one cooperative task, and halts until
// the next interrupt.
package kernel

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/kestrel-os/kestrel/agent"
	"github.com/kestrel-os/kestrel/aimodel"
	"github.com/kestrel-os/kestrel/cpio"
	"github.com/kestrel-os/kestrel/journal"
	"github.com/kestrel-os/kestrel/pmm"
	"github.com/kestrel-os/kestrel/taskrunner"
	"github.com/kestrel-os/kestrel/telemetry"
	"github.com/kestrel-os/kestrel/timebase"
	"github.com/kestrel-os/kestrel/txengine"
	"github.com/kestrel-os/kestrel/xhci"
)

// PageSize is the allocator's alignment granule.
const PageSize = 4096

// ModelFile is the initrd entry name the boot sequence looks up for the
// agent's model blob.
const ModelFile = "ai.mod"

// BootInfo is the structure passed to the entry point: the boot memory
// map plus the initrd window. The raw pointer/length fields of the
// physical handoff are already lifted into Go slices by the
// architecture-specific entry stub.
type BootInfo struct {
	MemoryMap []pmm.MemoryMapEntry
	Initrd    []byte
}

// Config carries the collaborators Boot cannot conjure itself: where
// journal records go, the backing store standing in for physical memory,
// and the optional console/trimmer/controller hookups. The zero value of
// optional fields disables the corresponding subsystem.
type Config struct {
	// Journal is the sink for action lifecycle records. Required; the
	// entry stub passes a journal.PortWriter over port 0xE9 on real
	// hardware and os.Stdout in hosted-debug builds.
	Journal io.Writer

	// Backing is the byte window standing in for the usable physical
	// region the memory map describes. Required.
	Backing []byte

	// XHCIBase is the discovered controller's MMIO base; zero skips the
	// driver entirely (no controller found during PCI scan).
	XHCIBase uintptr

	// Console receives decoded HID keystrokes; may be nil.
	Console xhci.Console

	// Trimmer is the TrimCache effect; may be nil.
	Trimmer txengine.CacheTrimmer

	// Verbose keeps the default logger attached to its output; when
	// false all log.Printf diagnostics are discarded.
	Verbose bool
}

// Kernel is the booted system: every subsystem constructed by Boot, held
// together so the idle loop and the ISR stubs can reach them.
type Kernel struct {
	Alloc  *pmm.Region
	Clock  *timebase.Counters
	Sink   *journal.Sink
	Engine *txengine.Engine
	Agent  *agent.Agent
	Tasks  *taskrunner.Runner
	USB    *xhci.Controller

	console xhci.Console
}

// Boot runs the bootstrap sequence: allocator, counters, and journal
// first, then the optional agent model hookup from the initrd, then the
// xHCI driver against the discovered controller, then the system-ready
// latch. Allocator or configuration errors are fatal; xHCI errors are
// logged and leave the driver stopped at its last stable state.
func Boot(info BootInfo, cfg Config) (*Kernel, error) {
	if !cfg.Verbose {
		log.SetOutput(io.Discard)
	}

	if cfg.Journal == nil {
		return nil, errors.New("kernel: no journal writer configured")
	}

	alloc, err := pmm.Init(info.MemoryMap, PageSize, cfg.Backing)
	if err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	log.Printf("kernel: allocator region [%#x,%#x), %d KiB free", alloc.Base(), alloc.Limit(), alloc.FreeKiB())

	clock := timebase.New(timebase.DetectSource())
	sink := journal.NewSink(cfg.Journal)
	engine := txengine.New(clock, sink, cfg.Trimmer)

	tasks := taskrunner.New()

	ag := agent.New(engine, &telemetry.Sampler{})
	loadModel(ag, info.Initrd)

	k := &Kernel{
		Alloc:   alloc,
		Clock:   clock,
		Sink:    sink,
		Engine:  engine,
		Agent:   ag,
		Tasks:   tasks,
		console: cfg.Console,
	}

	if !tasks.Register(k.agentStep) {
		return nil, errors.New("kernel: task registry full")
	}

	if cfg.XHCIBase != 0 {
		k.USB = xhci.New(alloc)
		if err := k.USB.Init(cfg.XHCIBase); err != nil {
			log.Printf("kernel: xhci init: %v", err)
		} else if err := k.USB.Enumerate(); err != nil {
			log.Printf("kernel: xhci enumeration: %v", err)
		}
	}

	engine.SetSystemReady()
	log.Printf("kernel: system ready")

	return k, nil
}

// loadModel locates ai.mod in the initrd and attaches it to the agent.
// Absent, truncated, or invalid blobs leave the agent on the fallback
// heuristic.
func loadModel(ag *agent.Agent, initrd []byte) {
	blob, ok := cpio.Find(initrd, ModelFile)
	if !ok {
		log.Printf("kernel: no %s in initrd, agent uses fallback heuristic", ModelFile)
		return
	}

	hdr, err := aimodel.ReadHeader(blob)
	if err != nil {
		log.Printf("kernel: %s: %v", ModelFile, err)
		return
	}

	total, err := hdr.TotalWeightsBytes()
	if err != nil || len(blob) < aimodel.HeaderSize+total {
		log.Printf("kernel: %s payload truncated, agent uses fallback heuristic", ModelFile)
		return
	}

	ag.LoadModel(hdr, blob[aimodel.HeaderSize:])
	log.Printf("kernel: model loaded: %s", hdr)
}

// agentStep is the cooperative task driving the AI control loop, registered by Boot.
func (k *Kernel) agentStep() {
	ticks, faults := k.Clock.Snapshot()
	k.Agent.Step(k.Tasks.Len, ticks, faults, k.Alloc.FreeKiB())
}

// IdleStep runs one iteration of the idle loop body: poll the xHCI
// event ring, drain one cooperative task. The halt half lives in Idle;
// splitting it out keeps the loop body testable without a halt
// instruction.
func (k *Kernel) IdleStep() {
	if k.USB != nil {
		k.USB.PollEvents(k.console)
	}
	k.Tasks.RunOnce()
}

// Idle is the bootstrap thread's terminal loop: it never returns. halt
// blocks until the next interrupt (hlt on real hardware, a scheduler
// yield in hosted-debug builds).
func (k *Kernel) Idle(halt func()) {
	for {
		k.IdleStep()
		halt()
	}
}
