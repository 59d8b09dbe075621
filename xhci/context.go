// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import "encoding/binary"

// Device/Input Context field layout. These offsets follow the xHCI 1.1
// specification's Slot Context and Endpoint Context dword layout.

// contextSize32 is one Slot/Endpoint Context entry's size when
// hccparams1.CSZ == 0.
const contextSize32 = 32
const contextSize64 = 64

// ctxEntrySize returns 32 or 64 depending on the controller's context
// size capability.
func (c *Controller) ctxEntrySize() int {
	if c.ctx64 {
		return contextSize64
	}
	return contextSize32
}

// newInputContext allocates a zeroed Input Context sized for the Input
// Control Context plus 32 device-context entries (Slot + 31 endpoints).
func (c *Controller) newInputContext() (addr uint64, buf []byte, err error) {
	entry := c.ctxEntrySize()
	size := uint64(entry * 33) // 1 input-control + 32 device-context entries

	addr, ok := c.alloc.AllocAligned(size, 64)
	if !ok {
		return 0, nil, errAlloc("input context")
	}
	buf, err = c.alloc.Bytes(addr, size)
	if err != nil {
		return 0, nil, err
	}
	zero(buf)
	return addr, buf, nil
}

// newDeviceContext allocates a zeroed Device Context (32 entries: Slot
// + 31 endpoints).
func (c *Controller) newDeviceContext() (addr uint64, buf []byte, err error) {
	entry := c.ctxEntrySize()
	size := uint64(entry * 32)

	addr, ok := c.alloc.AllocAligned(size, 64)
	if !ok {
		return 0, nil, errAlloc("device context")
	}
	buf, err = c.alloc.Bytes(addr, size)
	if err != nil {
		return 0, nil, err
	}
	zero(buf)
	return addr, buf, nil
}

// setAddFlags writes the Input Control Context's Add Context Flags
// (dword 1) within an input context buffer.
func setAddFlags(inputBuf []byte, flags uint32) {
	binary.LittleEndian.PutUint32(inputBuf[4:8], flags)
}

// slotContextOffset returns the byte offset of the Slot Context within an
// input or device context buffer (immediately after the Input Control
// Context for input buffers; at 0 for bare device-context buffers).
func slotContextOffset(hasInputControl bool, entrySize int) int {
	if hasInputControl {
		return entrySize
	}
	return 0
}

// epContextOffset returns the byte offset of endpoint context epID
// (1-based EP0, 2..31 for the rest) relative to the Slot Context.
func epContextOffset(epID int, entrySize int) int {
	return epID * entrySize
}

// setSlotContext populates the Slot Context's route string, speed, and
// context-entries fields in dword 0.
func setSlotContext(buf []byte, route uint32, speed uint32, contextEntries uint32) {
	dw0 := (route & 0xfffff) | ((speed & 0xf) << 20) | ((contextEntries & 0x1f) << 27)
	binary.LittleEndian.PutUint32(buf[0:4], dw0)
}

// setEndpointContext populates an Endpoint Context's EP type, max
// packet size, and TR Dequeue Pointer. epType follows the xHCI endpoint
// type encoding (4 = Control, 7 = Interrupt IN, 3 = Interrupt OUT).
func setEndpointContext(buf []byte, epType uint32, maxPacketSize uint16, trDequeuePhys uint64, dcs bool) {
	dw1 := (epType & 0x7) << 3
	dw1 |= uint32(maxPacketSize) << 16
	binary.LittleEndian.PutUint32(buf[4:8], dw1)

	trPtr := trDequeuePhys &^ 0xf
	if dcs {
		trPtr |= 1
	}
	binary.LittleEndian.PutUint64(buf[8:16], trPtr)
}

// xHCI Endpoint Type encodings used by this driver (xHCI 1.1 Table 6-9).
const (
	epTypeControl      = 4
	epTypeInterruptOut = 3
	epTypeInterruptIn  = 7
)

func errAlloc(what string) error {
	return &allocError{what}
}

type allocError struct{ what string }

func (e *allocError) Error() string {
	return "xhci: out of memory allocating " + e.what
}
