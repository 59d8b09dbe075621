// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"encoding/binary"
	"fmt"

	"github.com/kestrel-os/kestrel/bits"
	"github.com/kestrel-os/kestrel/internal/reg"
	"github.com/kestrel-os/kestrel/xhci/regs"
	"github.com/kestrel-os/kestrel/xhci/trb"
)

// ErrEnumerationFailed wraps a non-Success completion code observed
// during enumeration.
type ErrEnumerationFailed struct {
	At   State
	Code uint32
}

func (e *ErrEnumerationFailed) Error() string {
	return fmt.Sprintf("xhci: enumeration failed at %s: completion code %d", e.At, e.Code)
}

const completionSuccess = 1

// Enumerate drives the USB device enumeration state machine end to end,
// from the first CCS=1 port through starting HID interrupt polling. The
// controller must already be initialized. On any non-Success completion
// code or timeout, enumeration aborts and the controller is left at its
// last stable state; Enumerate returns the error but does not mutate
// kernel-wide state beyond the controller singleton.
func (c *Controller) Enumerate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	port, speed, err := c.findPort()
	if err != nil {
		return err
	}
	c.state = StatePortEnabled

	if err := c.enableSlot(); err != nil {
		return err
	}
	c.state = StateSlotEnabled

	if err := c.addressDevice(port, speed); err != nil {
		return err
	}
	c.state = StateAddressed

	devDesc, cfgDesc, err := c.readDescriptors()
	if err != nil {
		return err
	}
	c.state = StateDescriptorsRead
	_ = devDesc

	if err := c.setConfiguration(cfgDesc); err != nil {
		return err
	}
	c.state = StateConfigured

	epAddr, maxp, _, found := findHidBootKeyboardEndpoint(cfgDesc)
	if !found {
		return fmt.Errorf("xhci: no HID boot-keyboard interrupt endpoint found")
	}
	c.state = StateHidInterfaceFound

	if err := c.configureEndpoint(epAddr, maxp); err != nil {
		return err
	}
	c.state = StateEndpointConfigured

	if err := c.startPolling(maxp); err != nil {
		return err
	}
	c.state = StatePolling

	return nil
}

// findPort runs the Reset to PortEnabled transition: find the first
// port with CCS set, assert port reset, wait for reset to clear and the
// port to report enabled, then read out its speed.
func (c *Controller) findPort() (port int, speed uint32, err error) {
	for n := 0; n < int(c.maxPorts); n++ {
		portsc := reg.Read32(c.base.PortSC(n))
		if !bits.Get(portsc, regs.PORTSCCCS) {
			continue
		}

		reg.Set(c.base.PortSC(n), regs.PORTSCPR)
		if !reg.WaitIterations(PollBound, c.base.PortSC(n), regs.PORTSCPR, 1, 0) {
			return 0, 0, fmt.Errorf("xhci: port %d reset: %w", n, ErrTimeout)
		}
		if !reg.WaitIterations(PollBound, c.base.PortSC(n), regs.PORTSCPED, 1, 1) {
			return 0, 0, fmt.Errorf("xhci: port %d enable: %w", n, ErrTimeout)
		}

		portsc = reg.Read32(c.base.PortSC(n))
		speed = bits.GetN(portsc, regs.PORTSCPSpeedShift, uint32(regs.PORTSCPSpeedMask))

		return n, speed, nil
	}

	return 0, 0, fmt.Errorf("xhci: no connected port found")
}

// enableSlot runs the PortEnabled to SlotEnabled transition: enqueue an
// Enable Slot command, ring doorbell 0, and capture the returned slot id
// from the completion event.
func (c *Controller) enableSlot() error {
	cmd := trb.TRB{Control: trb.ControlField(trb.TypeEnableSlotCommand, 0, false, false)}
	c.cmdProd.Enqueue(cmd)
	c.ringDoorbell(0, 0)

	rec, err := c.waitCommandCompletion()
	if err != nil {
		return err
	}
	if rec.Code != completionSuccess {
		return &ErrEnumerationFailed{At: StatePortEnabled, Code: rec.Code}
	}

	c.slot = rec.Slot
	return nil
}

// addressDevice runs the SlotEnabled to Addressed transition: install a
// fresh Device Context in the DCBAA, build the EP0 transfer ring and the
// Input Context, and issue Address Device.
func (c *Controller) addressDevice(port int, speed uint32) error {
	devAddr, _, err := c.newDeviceContext()
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(c.dcbaaBuf[c.slot*8:], devAddr)

	ep0RingAddr, ep0Buf, err := c.allocRing(cmdRingSlots)
	if err != nil {
		return err
	}
	c.ep0Ring = trb.NewRing(ep0Buf, ep0RingAddr, cmdRingSlots)
	c.ep0Prod = trb.NewProducer(c.ep0Ring)

	inputAddr, inputBuf, err := c.newInputContext()
	if err != nil {
		return err
	}

	setAddFlags(inputBuf, 0b11) // slot + EP0

	entry := c.ctxEntrySize()
	slotOff := slotContextOffset(true, entry)
	setSlotContext(inputBuf[slotOff:], 0, speed, 1)

	ep0Off := slotOff + epContextOffset(1, entry)
	maxp := regs.MaxPacketSize(speed)
	setEndpointContext(inputBuf[ep0Off:], epTypeControl, maxp, ep0RingAddr, true)

	cmd := trb.TRB{
		Parameter: inputAddr,
		Control:   trb.ControlField(trb.TypeAddressDeviceCommand, c.slot, false, false),
	}
	c.cmdProd.Enqueue(cmd)
	c.ringDoorbell(0, 0)

	rec, err := c.waitCommandCompletion()
	if err != nil {
		return err
	}
	if rec.Code != completionSuccess {
		return &ErrEnumerationFailed{At: StateSlotEnabled, Code: rec.Code}
	}

	return nil
}

// readDescriptors runs the Addressed to DescriptorsRead transition: the
// 18-byte device descriptor, then the 9-byte configuration header for
// wTotalLength, then the full configuration descriptor.
func (c *Controller) readDescriptors() (device []byte, config []byte, err error) {
	_, devBuf, err := c.allocScratch(18)
	if err != nil {
		return nil, nil, err
	}
	code, err := c.controlTransferIn(bmRequestTypeDeviceToHostStandard, GetDescriptor, uint16(DescDevice)<<8, 0, devBuf)
	if err != nil {
		return nil, nil, err
	}
	if code != completionSuccess {
		return nil, nil, &ErrEnumerationFailed{At: StateAddressed, Code: code}
	}

	_, cfgHdr, err := c.allocScratch(9)
	if err != nil {
		return nil, nil, err
	}
	code, err = c.controlTransferIn(bmRequestTypeDeviceToHostStandard, GetDescriptor, uint16(DescConfiguration)<<8, 0, cfgHdr)
	if err != nil {
		return nil, nil, err
	}
	if code != completionSuccess {
		return nil, nil, &ErrEnumerationFailed{At: StateAddressed, Code: code}
	}

	totalLength := binary.LittleEndian.Uint16(cfgHdr[2:4])

	_, cfgFull, err := c.allocScratch(int(totalLength))
	if err != nil {
		return nil, nil, err
	}
	code, err = c.controlTransferIn(bmRequestTypeDeviceToHostStandard, GetDescriptor, uint16(DescConfiguration)<<8, 0, cfgFull)
	if err != nil {
		return nil, nil, err
	}
	if code != completionSuccess {
		return nil, nil, &ErrEnumerationFailed{At: StateAddressed, Code: code}
	}

	return devBuf, cfgFull, nil
}

// setConfiguration runs the DescriptorsRead to Configured transition
// with a no-data control-OUT SET_CONFIGURATION.
func (c *Controller) setConfiguration(cfgDesc []byte) error {
	if len(cfgDesc) < 6 {
		return fmt.Errorf("xhci: configuration descriptor too short")
	}
	configValue := uint16(cfgDesc[5])

	code, err := c.controlTransferOutNoData(bmRequestTypeHostToDeviceStandard, SetConfiguration, configValue, 0)
	if err != nil {
		return err
	}
	if code != completionSuccess {
		return &ErrEnumerationFailed{At: StateDescriptorsRead, Code: code}
	}

	return nil
}

// findHidBootKeyboardEndpoint walks the configuration descriptor byte
// by byte. An Interface descriptor with class 3, subclass 1, protocol 1
// opens a HID boot keyboard scope; within that scope, an Endpoint
// descriptor whose address has the IN bit set and whose attributes mark
// it interrupt yields (addr, maxp, bInterval).
func findHidBootKeyboardEndpoint(cfgDesc []byte) (epAddr uint8, maxp uint16, bInterval uint8, found bool) {
	inHidScope := false

	for i := 0; i+1 < len(cfgDesc); {
		length := cfgDesc[i]
		descType := cfgDesc[i+1]

		if length == 0 || i+int(length) > len(cfgDesc) {
			break
		}

		switch {
		case descType == DescInterface && length >= 9:
			class, subclass, protocol := cfgDesc[i+5], cfgDesc[i+6], cfgDesc[i+7]
			inHidScope = class == 3 && subclass == 1 && protocol == 1

		case descType == DescEndpoint && length >= 7 && inHidScope:
			addr := cfgDesc[i+2]
			attrs := cfgDesc[i+3]
			if addr&0x80 != 0 && attrs&0x3 == 3 {
				mp := binary.LittleEndian.Uint16(cfgDesc[i+4 : i+6])
				return addr, mp, cfgDesc[i+6], true
			}
		}

		i += int(length)
	}

	return 0, 0, 0, false
}

// endpointID computes the xHCI endpoint id from a standard endpoint
// address byte: ep_number*2, plus one for IN endpoints.
func endpointID(bEndpointAddress uint8) uint32 {
	epNumber := uint32(bEndpointAddress & 0x0f)
	isIn := bEndpointAddress&0x80 != 0
	id := epNumber * 2
	if isIn {
		id++
	}
	return id
}

// configureEndpoint runs the HidInterfaceFound to EndpointConfigured
// transition: build the interrupt ring and an Input Context adding the
// endpoint, then issue Configure Endpoint.
func (c *Controller) configureEndpoint(bEndpointAddress uint8, maxp uint16) error {
	epID := endpointID(bEndpointAddress)

	ringAddr, ringBuf, err := c.allocRing(intrRingSlots)
	if err != nil {
		return err
	}
	c.intrRing = trb.NewRing(ringBuf, ringAddr, intrRingSlots)
	c.intrProd = trb.NewProducer(c.intrRing)
	c.intrEPID = epID

	inputAddr, inputBuf, err := c.newInputContext()
	if err != nil {
		return err
	}

	setAddFlags(inputBuf, (1<<0)|(1<<epID))

	entry := c.ctxEntrySize()
	slotOff := slotContextOffset(true, entry)
	setSlotContext(inputBuf[slotOff:], 0, 0, epID)

	epOff := slotOff + epContextOffset(int(epID), entry)
	setEndpointContext(inputBuf[epOff:], epTypeInterruptIn, maxp, ringAddr, true)

	cmd := trb.TRB{
		Parameter: inputAddr,
		Control:   trb.ControlField(trb.TypeConfigureEndpointCommand, c.slot, false, false),
	}
	c.cmdProd.Enqueue(cmd)
	c.ringDoorbell(0, 0)

	rec, err := c.waitCommandCompletion()
	if err != nil {
		return err
	}
	if rec.Code != completionSuccess {
		return &ErrEnumerationFailed{At: StateHidInterfaceFound, Code: rec.Code}
	}

	return nil
}

// startPolling runs the EndpointConfigured to Polling transition:
// allocate the input buffer and post the first Normal TRB on the
// interrupt ring.
func (c *Controller) startPolling(maxp uint16) error {
	addr, buf, err := c.allocScratch(int(maxp))
	if err != nil {
		return err
	}

	c.hidBufAddr = addr
	c.hidBufLen = int(maxp)
	c.hidBuf = buf

	normal := trb.TRB{
		Parameter: addr,
		Status:    uint32(maxp),
		Control:   trb.ControlField(trb.TypeNormal, 0, true, false),
	}
	c.intrProd.Enqueue(normal)
	c.ringDoorbell(c.slot, c.intrEPID)

	return nil
}

// allocRing allocates and zeroes a 64-byte-aligned TRB ring buffer of the
// given slot count, returning its physical address and byte view.
func (c *Controller) allocRing(slots int) (addr uint64, buf []byte, err error) {
	addr, ok := c.alloc.AllocAligned(uint64(slots*trb.Size), 64)
	if !ok {
		return 0, nil, errAlloc("ring")
	}
	buf, err = c.alloc.Bytes(addr, uint64(slots*trb.Size))
	if err != nil {
		return 0, nil, err
	}
	zero(buf)
	return addr, buf, nil
}
