// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package trb implements the xHCI Transfer Request Block, the 16-byte
// little-endian unit of every xHCI ring, and the producer/consumer ring
// discipline built on its cycle bit. TRBs are read and written through
// encoding/binary against a backing DMA buffer rather than pointer
// casts, so ring contents stay well-defined regardless of host
// alignment rules.
package trb

import "encoding/binary"

// Size is the fixed TRB length in bytes.
const Size = 16

// Control bit positions and field widths.
const (
	CycleBit = 0
	IOCBit   = 5

	typeShift = 10
	typeMask  = 0x3f

	field1Shift = 16
	field1Mask  = 0xff
)

// TRB types used by this driver. The xHCI
// specification defines many more; only the ones the driver issues or
// must recognize are named here.
const (
	TypeNormal                   = 1
	TypeSetupStage               = 2
	TypeDataStage                = 3
	TypeStatusStage              = 4
	TypeLink                     = 6
	TypeEnableSlotCommand        = 9
	TypeAddressDeviceCommand     = 11
	TypeConfigureEndpointCommand = 12
	TypeNoOpCommand              = 23
	TypeTransferEvent            = 32 // 0x20
	TypeCommandCompletion        = 33 // 0x21
	TypePortStatusChange         = 34 // 0x22
)

// Direction flags for data/status stage TRBs.
const (
	DirOut = 0
	DirIn  = 1
)

// TRB is a decoded 16-byte ring entry: Parameter[0:8],
// Status[8:12], Control[12:16], all little-endian.
type TRB struct {
	Parameter uint64
	Status    uint32
	Control   uint32
}

// Cycle reports the state of the cycle bit (control bit 0).
func (t TRB) Cycle() bool {
	return t.Control&(1<<CycleBit) != 0
}

// Type returns the TRB type field (control bits 10-15).
func (t TRB) Type() uint32 {
	return (t.Control >> typeShift) & typeMask
}

// Field1 returns control bits 16-23: slot id for command TRBs, endpoint
// id for transfer events, direction or other context for data/status
// stages.
func (t TRB) Field1() uint32 {
	return (t.Control >> field1Shift) & field1Mask
}

// CompletionCode returns status bits 24-31, the completion code on event
// TRBs.
func (t TRB) CompletionCode() uint32 {
	return t.Status >> 24
}

// TransferLength returns status bits 0-23, the residual/transfer length
// on a Transfer Event TRB.
func (t TRB) TransferLength() uint32 {
	return t.Status & 0xFFFFFF
}

// Encode writes t into buf (which must be at least Size bytes) in the
// wire layout.
func (t TRB) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], t.Parameter)
	binary.LittleEndian.PutUint32(buf[8:12], t.Status)
	binary.LittleEndian.PutUint32(buf[12:16], t.Control)
}

// Decode reads a TRB from buf (which must be at least Size bytes).
func Decode(buf []byte) TRB {
	return TRB{
		Parameter: binary.LittleEndian.Uint64(buf[0:8]),
		Status:    binary.LittleEndian.Uint32(buf[8:12]),
		Control:   binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// WithCycle returns t with the cycle bit forced to c.
func WithCycle(t TRB, c bool) TRB {
	if c {
		t.Control |= 1 << CycleBit
	} else {
		t.Control &^= 1 << CycleBit
	}
	return t
}

// ControlField packs a TRB type, Field1 payload, IOC flag, and cycle bit
// into a control word. Helper for constructing TRBs
// without hand-computing bit shifts at every call site.
func ControlField(trbType uint32, field1 uint32, ioc bool, cycle bool) uint32 {
	c := (trbType & typeMask) << typeShift
	c |= (field1 & field1Mask) << field1Shift
	if ioc {
		c |= 1 << IOCBit
	}
	if cycle {
		c |= 1 << CycleBit
	}
	return c
}

// Link builds a Link TRB pointing at ringBase with the toggle-cycle bit
// set, for installation in a ring's last slot.
func Link(ringBase uint64, cycle bool) TRB {
	const toggleCycleBit = 1 // control bit 1 on Link TRBs
	ctrl := ControlField(TypeLink, 0, false, cycle)
	ctrl |= 1 << toggleCycleBit
	return TRB{Parameter: ringBase, Control: ctrl}
}
