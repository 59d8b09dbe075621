// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"github.com/kestrel-os/kestrel/internal/reg"
	"github.com/kestrel-os/kestrel/xhci/hid"
	"github.com/kestrel-os/kestrel/xhci/regs"
	"github.com/kestrel-os/kestrel/xhci/trb"
)

// Console receives decoded HID keystrokes. The real console (VGA text
// mode, serial) lives elsewhere; this is the narrow interface the
// dispatcher needs from it.
type Console interface {
	WriteByte(b byte) error
}

// PollEvents drains all currently pending event ring entries,
// dispatching each; the idle loop calls it once per iteration. It does
// not block: an empty ring returns immediately.
func (c *Controller) PollEvents(console Console) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		t, ok := c.eventCons.Next()
		if !ok {
			return
		}
		c.dispatchEvent(t)
		if t.Type() == trb.TypeTransferEvent {
			c.handleTransferEvent(t, console)
		}
	}
}

// dispatchEvent updates controller state from one event TRB. Caller
// holds mu. The Transfer Event's HID-specific handling is split into
// handleTransferEvent so callers that only need completion bookkeeping
// (e.g. waitCommandCompletion) can reuse this without a console.
func (c *Controller) dispatchEvent(t trb.TRB) {
	ir0 := c.base.Interrupter(0)

	switch t.Type() {
	case trb.TypeCommandCompletion:
		c.lastCompletion = CompletionRecord{
			Code: t.CompletionCode(),
			Slot: t.Field1(),
		}

	case trb.TypeTransferEvent:
		c.lastTransfer = TransferRecord{
			Code:     t.CompletionCode(),
			Length:   t.TransferLength(),
			Endpoint: t.Field1(),
		}

	case trb.TypePortStatusChange:
		port := int(t.Parameter & 0xff)
		portsc := reg.Read32(c.base.PortSC(port - 1))
		if c.PortChanged != nil {
			c.PortChanged(port, portsc)
		}

	default:
		// recorded implicitly via lastCompletion/lastTransfer above when
		// applicable; unrecognized types are otherwise ignored.
	}

	dequeueAddr := c.eventRing.Base() + uint64(c.eventCons.Index())*trb.Size
	reg.Write64(ir0+regs.ERDP, dequeueAddr|(1<<regs.ERDPEHBBit))
}

// handleTransferEvent is the HID-specific half of Transfer Event
// handling: on success from the interrupt endpoint, decode the
// boot-keyboard report, push the glyph to console, and re-post a fresh
// Normal TRB. Caller holds mu.
func (c *Controller) handleTransferEvent(t trb.TRB, console Console) {
	const completionSuccess = 1

	if c.intrRing == nil || t.Field1() != c.intrEPID {
		return
	}

	if t.CompletionCode() != completionSuccess {
		c.repostInterruptTRB()
		return
	}

	if console != nil && len(c.hidBuf) >= hid.ReportSize {
		var report [hid.ReportSize]byte
		copy(report[:], c.hidBuf[:hid.ReportSize])

		if glyph, ok := hid.Decode(report); ok {
			console.WriteByte(glyph)
		}
	}

	c.repostInterruptTRB()
}

// repostInterruptTRB re-enqueues a Normal TRB on the interrupt ring and
// rings its doorbell. Caller holds mu.
func (c *Controller) repostInterruptTRB() {
	if c.intrRing == nil {
		return
	}

	normal := trb.TRB{
		Parameter: c.hidBufAddr,
		Status:    uint32(c.hidBufLen),
		Control:   trb.ControlField(trb.TypeNormal, 0, true, false),
	}

	c.intrProd.Enqueue(normal)
	c.ringDoorbell(c.slot, c.intrEPID)
}
