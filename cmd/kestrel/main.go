// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Kestrel's hosted-debug entry point: boots the kernel against an
// anonymous memory mapping instead of real RAM and drives the idle loop
// with an OS timer standing in for the PIT ISR. The bare-metal boot path
// is the same kernel.Boot call, reached from the architecture entry stub
// with real BootInfo and a port-0xE9 journal instead.
package main

import (
	"log"
	"os"
	"runtime"
	"time"

	"github.com/kestrel-os/kestrel/kernel"
	"github.com/kestrel-os/kestrel/pmm"
)

// memWindow is the size of the synthetic physical memory window handed
// to the allocator.
const memWindow = 64 << 20

func main() {
	backing, err := mapBacking(memWindow)
	if err != nil {
		log.Fatalf("kestrel: backing memory: %v", err)
	}

	var initrd []byte
	if len(os.Args) > 1 {
		initrd, err = os.ReadFile(os.Args[1])
		if err != nil {
			log.Fatalf("kestrel: initrd: %v", err)
		}
	}

	info := kernel.BootInfo{
		MemoryMap: []pmm.MemoryMapEntry{
			{Base: 0, Length: memWindow, Type: pmm.TypeUsable},
		},
		Initrd: initrd,
	}

	k, err := kernel.Boot(info, kernel.Config{
		Journal: os.Stdout,
		Backing: backing,
		Verbose: true,
	})
	if err != nil {
		log.Fatalf("kestrel: boot: %v", err)
	}

	// Stand in for the timer ISR so telemetry rates and the engine's
	// self-test see time advancing.
	go func() {
		for range time.Tick(time.Millisecond) {
			k.Clock.TickISR()
		}
	}()

	k.Idle(runtime.Gosched)
}
