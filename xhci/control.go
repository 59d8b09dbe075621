// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"encoding/binary"
	"fmt"

	"github.com/kestrel-os/kestrel/xhci/trb"
)

// Standard USB request codes and descriptor types (USB 2.0
// specification tables 9-4 and 9-5).
const (
	GetDescriptor    = 6
	SetConfiguration = 9
)

const (
	DescDevice        = 1
	DescConfiguration = 2
	DescInterface     = 4
	DescEndpoint      = 5
)

const (
	bmRequestTypeDeviceToHostStandard = 0x80
	bmRequestTypeHostToDeviceStandard = 0x00
)

const ep0DoorbellTarget = 1 // EP0's endpoint id

// controlTransferIn runs the three-TRB control-IN sequence on EP0:
// Setup, Data(IN), Status(OUT). buf receives up to len(buf) bytes of
// response data. Returns the completion code observed on the Transfer
// Event, or an error on timeout.
func (c *Controller) controlTransferIn(bmRequestType, bRequest uint8, wValue, wIndex uint16, buf []byte) (uint32, error) {
	wLength := uint16(len(buf))

	setupParam := packSetup(bmRequestType, bRequest, wValue, wIndex, wLength)

	setup := trb.TRB{
		Parameter: setupParam,
		Status:    8,
		Control:   trb.ControlField(trb.TypeSetupStage, 0, false, false) | 1<<6, // IDT: immediate data
	}
	data := trb.TRB{
		Parameter: c.ep0BufAddr(buf),
		Status:    uint32(wLength),
		Control:   trb.ControlField(trb.TypeDataStage, trb.DirIn, false, false),
	}
	status := trb.TRB{
		Parameter: 0,
		Status:    0,
		Control:   trb.ControlField(trb.TypeStatusStage, trb.DirOut, true, false),
	}

	c.ep0Prod.Enqueue(setup)
	c.ep0Prod.Enqueue(data)
	c.ep0Prod.Enqueue(status)

	c.ringDoorbell(c.slot, ep0DoorbellTarget)

	return c.waitTransferEvent()
}

// controlTransferOutNoData runs the two-TRB control sequence used by
// requests with no data stage: Setup, then Status(IN).
func (c *Controller) controlTransferOutNoData(bmRequestType, bRequest uint8, wValue, wIndex uint16) (uint32, error) {
	setupParam := packSetup(bmRequestType, bRequest, wValue, wIndex, 0)

	setup := trb.TRB{
		Parameter: setupParam,
		Status:    8,
		Control:   trb.ControlField(trb.TypeSetupStage, 0, false, false) | 1<<6,
	}
	status := trb.TRB{
		Parameter: 0,
		Status:    0,
		Control:   trb.ControlField(trb.TypeStatusStage, trb.DirIn, true, false),
	}

	c.ep0Prod.Enqueue(setup)
	c.ep0Prod.Enqueue(status)

	c.ringDoorbell(c.slot, ep0DoorbellTarget)

	return c.waitTransferEvent()
}

// waitTransferEvent polls the event ring for a Transfer Event.
func (c *Controller) waitTransferEvent() (uint32, error) {
	for i := 0; i < PollBound; i++ {
		t, ok := c.eventCons.Next()
		if !ok {
			continue
		}
		c.dispatchEvent(t)
		if t.Type() == trb.TypeTransferEvent {
			return c.lastTransfer.Code, nil
		}
	}
	return 0, fmt.Errorf("xhci: control transfer: %w", ErrTimeout)
}

// packSetup packs a Setup Stage TRB parameter field from the standard
// eight-byte Setup Data layout.
func packSetup(bmRequestType, bRequest uint8, wValue, wIndex, wLength uint16) uint64 {
	var b [8]byte
	b[0] = bmRequestType
	b[1] = bRequest
	binary.LittleEndian.PutUint16(b[2:4], wValue)
	binary.LittleEndian.PutUint16(b[4:6], wIndex)
	binary.LittleEndian.PutUint16(b[6:8], wLength)
	return binary.LittleEndian.Uint64(b[:])
}

// ep0BufAddr resolves a scratch buffer to a physical address for use as a
// Data Stage TRB parameter. In this driver, descriptor read buffers are
// always carved from the same bump allocator as the rings, so the buffer
// header just needs to recover the address it was allocated at; callers
// pass buffers obtained via allocScratch to keep this consistent.
func (c *Controller) ep0BufAddr(buf []byte) uint64 {
	return c.scratchAddr(buf)
}

// allocScratch allocates an n-byte, 8-byte aligned scratch DMA buffer and
// remembers its physical address for ep0BufAddr lookups.
func (c *Controller) allocScratch(n int) (addr uint64, buf []byte, err error) {
	addr, ok := c.alloc.AllocAligned(uint64(n), 8)
	if !ok {
		return 0, nil, errAlloc("control transfer scratch buffer")
	}
	buf, err = c.alloc.Bytes(addr, uint64(n))
	if err != nil {
		return 0, nil, err
	}
	c.scratchAddrs[&buf[0]] = addr
	return addr, buf, nil
}

func (c *Controller) scratchAddr(buf []byte) uint64 {
	if len(buf) == 0 {
		return 0
	}
	return c.scratchAddrs[&buf[0]]
}
