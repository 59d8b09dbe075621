// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"encoding/binary"
	"testing"
)

func TestSetAddFlags(t *testing.T) {
	buf := make([]byte, 32)
	setAddFlags(buf, 0b1001)

	if got := binary.LittleEndian.Uint32(buf[4:8]); got != 0b1001 {
		t.Fatalf("add flags = %#x, want 0x9", got)
	}
}

func TestSlotContextOffset(t *testing.T) {
	if got := slotContextOffset(true, 32); got != 32 {
		t.Fatalf("slotContextOffset(true, 32) = %d, want 32", got)
	}
	if got := slotContextOffset(false, 32); got != 0 {
		t.Fatalf("slotContextOffset(false, 32) = %d, want 0", got)
	}
}

func TestEpContextOffset(t *testing.T) {
	if got := epContextOffset(1, 32); got != 32 {
		t.Fatalf("epContextOffset(1, 32) = %d, want 32 (EP0 immediately follows Slot Context)", got)
	}
	if got := epContextOffset(3, 32); got != 96 {
		t.Fatalf("epContextOffset(3, 32) = %d, want 96", got)
	}
}

func TestSetSlotContext(t *testing.T) {
	buf := make([]byte, 32)
	setSlotContext(buf, 0x12345, 4, 1)

	dw0 := binary.LittleEndian.Uint32(buf[0:4])

	if route := dw0 & 0xfffff; route != 0x12345 {
		t.Fatalf("route = %#x, want 0x12345", route)
	}
	if speed := (dw0 >> 20) & 0xf; speed != 4 {
		t.Fatalf("speed = %d, want 4", speed)
	}
	if entries := (dw0 >> 27) & 0x1f; entries != 1 {
		t.Fatalf("context entries = %d, want 1", entries)
	}
}

func TestSetEndpointContext(t *testing.T) {
	buf := make([]byte, 32)
	setEndpointContext(buf, epTypeControl, 512, 0x1000, true)

	dw1 := binary.LittleEndian.Uint32(buf[4:8])
	if epType := (dw1 >> 3) & 0x7; epType != epTypeControl {
		t.Fatalf("ep type = %d, want %d", epType, epTypeControl)
	}
	if mps := dw1 >> 16; mps != 512 {
		t.Fatalf("max packet size = %d, want 512", mps)
	}

	trPtr := binary.LittleEndian.Uint64(buf[8:16])
	if trPtr&1 == 0 {
		t.Fatalf("expected DCS bit set")
	}
	if trPtr&^0xf != 0x1000 {
		t.Fatalf("TR dequeue pointer = %#x, want 0x1000", trPtr&^0xf)
	}
}

func TestSetEndpointContextDCSClear(t *testing.T) {
	buf := make([]byte, 32)
	setEndpointContext(buf, epTypeInterruptIn, 8, 0x2000, false)

	trPtr := binary.LittleEndian.Uint64(buf[8:16])
	if trPtr&1 != 0 {
		t.Fatalf("expected DCS bit clear")
	}
}

func TestCtxEntrySize(t *testing.T) {
	c32 := &Controller{ctx64: false}
	if got := c32.ctxEntrySize(); got != contextSize32 {
		t.Fatalf("ctxEntrySize(32-byte) = %d, want %d", got, contextSize32)
	}

	c64 := &Controller{ctx64: true}
	if got := c64.ctxEntrySize(); got != contextSize64 {
		t.Fatalf("ctxEntrySize(64-byte) = %d, want %d", got, contextSize64)
	}
}
