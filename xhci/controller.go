// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package xhci implements the xHCI (USB 3.0 host controller) driver
// core: controller bring-up, ring management, device enumeration,
// control transfers, and the event dispatcher feeding HID boot-keyboard
// input to a console. All register access goes through internal/reg;
// all DMA structures are carved from a pmm.Region and never freed.
package xhci

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/kestrel-os/kestrel/bits"
	"github.com/kestrel-os/kestrel/internal/reg"
	"github.com/kestrel-os/kestrel/pmm"
	"github.com/kestrel-os/kestrel/xhci/regs"
	"github.com/kestrel-os/kestrel/xhci/trb"
)

// ErrTimeout is returned when a bounded poll expires.
var ErrTimeout = errors.New("xhci: register or completion poll timed out")

// ErrAlreadyInitialized reports a repeated Init call; the controller is
// brought up at most once.
var ErrAlreadyInitialized = errors.New("xhci: controller already initialized")

// PollBound is the maximum number of polling iterations for any bounded
// wait. A var, not a const, so tests can shrink it.
var PollBound = 1000000

const (
	cmdRingSlots   = 256
	eventRingSlots = 256
	intrRingSlots  = 128
)

// CompletionRecord is the last-observed Command Completion event.
type CompletionRecord struct {
	Code uint32
	Slot uint32
}

// TransferRecord is the last-observed Transfer event.
type TransferRecord struct {
	Code     uint32
	Length   uint32
	Endpoint uint32
}

// Controller is the xHCI singleton: resolved register bases, the
// command and event ring descriptors, the DCBAA and ERST, the
// last-observed completion and transfer records, the active device slot
// id, the EP0 and interrupt-endpoint rings, and the HID input buffer.
// All fields are mutated only under mu.
type Controller struct {
	mu sync.Mutex

	initialized bool

	base regs.Base

	maxSlots uint32
	maxPorts uint32
	ctx64    bool // hccparams1.CSZ

	alloc *pmm.Region

	cmdRing   *trb.Ring
	cmdProd   *trb.Producer
	eventRing *trb.Ring
	eventCons *trb.SegmentConsumer

	dcbaaAddr uint64
	dcbaaBuf  []byte

	lastCompletion CompletionRecord
	lastTransfer   TransferRecord

	slot     uint32
	ep0Ring  *trb.Ring
	ep0Prod  *trb.Producer
	intrRing *trb.Ring
	intrProd *trb.Producer
	intrEPID uint32

	hidBufAddr uint64
	hidBufLen  int
	hidBuf     []byte

	// scratchAddrs recovers the physical address a control-transfer
	// scratch buffer was allocated at, keyed by the address of its first
	// byte (stable for the buffer's lifetime: it is a view into the bump
	// allocator's backing array, which is never moved or freed).
	scratchAddrs map[*byte]uint64

	state State

	// PortChanged, if set, is invoked from the event dispatcher on a
	// Port Status Change event, after PORTSC for that
	// port has been sampled. Optional; nil is a no-op.
	PortChanged func(port int, portsc uint32)
}

// New constructs an uninitialized Controller that will carve its DMA
// structures out of alloc.
func New(alloc *pmm.Region) *Controller {
	return &Controller{alloc: alloc, state: StateReset, scratchAddrs: make(map[*byte]uint64)}
}

// MaxSlots returns the controller's maximum device slot count, valid
// after Init.
func (c *Controller) MaxSlots() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSlots
}

// LastCompletion returns the most recently observed Command Completion.
func (c *Controller) LastCompletion() CompletionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCompletion
}

// LastTransfer returns the most recently observed Transfer event.
func (c *Controller) LastTransfer() TransferRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTransfer
}

// Init performs controller bring-up. mmioBase is the controller's MMIO
// base address. A second call returns ErrAlreadyInitialized without
// touching hardware.
func (c *Controller) Init(mmioBase uintptr) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return ErrAlreadyInitialized
	}

	capLength := uintptr(reg.Read32(mmioBase+regs.CapLength) & 0xff)
	c.base = regs.Base{
		MMIO: mmioBase,
		Op:   mmioBase + capLength,
	}

	hcsparams1 := reg.Read32(mmioBase + regs.HCSParams1)
	c.maxSlots = bits.GetN(hcsparams1, regs.HCSParams1MaxSlotsShift, uint32(regs.HCSParams1MaxSlotsMask))
	c.maxPorts = bits.GetN(hcsparams1, regs.HCSParams1MaxPortsShift, uint32(regs.HCSParams1MaxPortsMask))

	hccparams1 := reg.Read32(mmioBase + regs.HCCParams1)
	c.ctx64 = bits.Get(hccparams1, regs.HCCParams1CSZBit)

	c.base.DB = mmioBase + uintptr(reg.Read32(mmioBase+regs.DBOff))
	c.base.RT = mmioBase + uintptr(reg.Read32(mmioBase+regs.RTSOff))

	// Step 1-2: stop and reset the controller.
	if bits.Get(reg.Read32(c.base.Op+regs.USBCMD), regs.USBCMDRunStop) {
		reg.Clear(c.base.Op+regs.USBCMD, regs.USBCMDRunStop)
		if !reg.WaitIterations(PollBound, c.base.Op+regs.USBSTS, regs.USBSTSHCH, 1, 1) {
			return fmt.Errorf("xhci: halt: %w", ErrTimeout)
		}
	}

	reg.Set(c.base.Op+regs.USBCMD, regs.USBCMDHCRST)
	if !reg.WaitIterations(PollBound, c.base.Op+regs.USBCMD, regs.USBCMDHCRST, 1, 0) {
		return fmt.Errorf("xhci: reset: %w", ErrTimeout)
	}
	if !reg.WaitIterations(PollBound, c.base.Op+regs.USBSTS, regs.USBSTSHCH, 1, 1) {
		return fmt.Errorf("xhci: reset halt: %w", ErrTimeout)
	}

	// Step 3: command ring.
	if err := c.initCommandRing(); err != nil {
		return err
	}

	// Step 4: DCBAA.
	if err := c.initDCBAA(); err != nil {
		return err
	}

	// Step 5-7: event ring + ERST + interrupter 0.
	if err := c.initEventRing(); err != nil {
		return err
	}

	// Step 6 (cont'd): program CRCR/DCBAAP/CONFIG.
	crcr := c.cmdRing.Base() | 1 // RCS=1
	reg.Write64(c.base.Op+regs.CRCR, crcr)
	reg.Write64(c.base.Op+regs.DCBAAP, c.dcbaaAddr)
	reg.Write32(c.base.Op+regs.CONFIG, c.maxSlots)

	// Step 8: clear status, enable run/interrupts.
	reg.Write32(c.base.Op+regs.USBSTS,
		1<<regs.USBSTSEINT|1<<regs.USBSTSPCD|1<<regs.USBSTSHSE)
	reg.Set(c.base.Op+regs.USBCMD, regs.USBCMDRunStop)
	reg.Set(c.base.Op+regs.USBCMD, regs.USBCMDINTE)
	if !reg.WaitIterations(PollBound, c.base.Op+regs.USBSTS, regs.USBSTSHCH, 1, 0) {
		return fmt.Errorf("xhci: run: %w", ErrTimeout)
	}

	// Step 9: No-Op command, doorbell 0.
	noop := trb.TRB{Control: trb.ControlField(trb.TypeNoOpCommand, 0, false, false)}
	c.cmdProd.Enqueue(noop)
	c.ringDoorbell(0, 0)

	if _, err := c.waitCommandCompletion(); err != nil {
		return fmt.Errorf("xhci: no-op command: %w", err)
	}

	c.initialized = true
	c.state = StateReset // bring-up succeeded; enumeration starts from Reset

	return nil
}

func (c *Controller) initCommandRing() error {
	addr, ok := c.alloc.AllocAligned(uint64(cmdRingSlots*trb.Size), 64)
	if !ok {
		return errors.New("xhci: out of memory allocating command ring")
	}
	buf, err := c.alloc.Bytes(addr, uint64(cmdRingSlots*trb.Size))
	if err != nil {
		return err
	}
	zero(buf)

	c.cmdRing = trb.NewRing(buf, addr, cmdRingSlots)
	c.cmdProd = trb.NewProducer(c.cmdRing)

	return nil
}

func (c *Controller) initDCBAA() error {
	size := uint64(c.maxSlots+1) * 8
	addr, ok := c.alloc.AllocAligned(size, 64)
	if !ok {
		return errors.New("xhci: out of memory allocating DCBAA")
	}
	buf, err := c.alloc.Bytes(addr, size)
	if err != nil {
		return err
	}
	zero(buf)

	c.dcbaaAddr = addr
	c.dcbaaBuf = buf

	return nil
}

func (c *Controller) initEventRing() error {
	addr, ok := c.alloc.AllocAligned(uint64(eventRingSlots*trb.Size), 64)
	if !ok {
		return errors.New("xhci: out of memory allocating event ring")
	}
	buf, err := c.alloc.Bytes(addr, uint64(eventRingSlots*trb.Size))
	if err != nil {
		return err
	}
	zero(buf)

	// The event ring is a single segment with no Link TRB: the
	// controller produces into all eventRingSlots slots and wraps
	// straight to slot 0, so the consumer wraps by index, not by Link.
	c.eventRing = trb.NewRing(buf, addr, eventRingSlots)
	c.eventCons = trb.NewSegmentConsumer(c.eventRing)

	erstAddr, ok := c.alloc.AllocAligned(16, 64)
	if !ok {
		return errors.New("xhci: out of memory allocating ERST")
	}
	erst, err := c.alloc.Bytes(erstAddr, 16)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(erst[0:8], addr)
	binary.LittleEndian.PutUint32(erst[8:12], eventRingSlots)
	binary.LittleEndian.PutUint32(erst[12:16], 0)

	ir0 := c.base.Interrupter(0)
	reg.Write32(ir0+regs.ERSTSZ, 1)
	reg.Write64(ir0+regs.ERSTBA, erstAddr)
	reg.Write64(ir0+regs.ERDP, addr)
	reg.Set(ir0+regs.IMAN, regs.IMANEnable)
	reg.Write32(ir0+regs.IMOD, 0)

	return nil
}

func (c *Controller) ringDoorbell(slot, target uint32) {
	reg.Write32(c.base.Doorbell(int(slot)), target)
}

// waitCommandCompletion polls the event ring for a Command Completion
// TRB. Any other event observed while
// waiting is dispatched normally so Port Status Change events are never
// silently dropped.
func (c *Controller) waitCommandCompletion() (CompletionRecord, error) {
	for i := 0; i < PollBound; i++ {
		t, ok := c.eventCons.Next()
		if !ok {
			continue
		}
		c.dispatchEvent(t)
		if t.Type() == trb.TypeCommandCompletion {
			return c.lastCompletion, nil
		}
	}
	return CompletionRecord{}, ErrTimeout
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
