// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package hid decodes USB HID boot-keyboard reports (8 bytes: modifier
// bitmap, reserved, up to 6 key usages) into ASCII glyphs, tracking
// shift state from the modifier bitmap.
package hid

// Modifier bitmap bits (byte 0 of a boot-keyboard report).
const (
	ModLeftShift  = 1 << 1
	ModRightShift = 1 << 5
)

// ReportSize is the fixed boot-keyboard report length in bytes.
const ReportSize = 8

// usageTable maps HID keyboard usage IDs to their unshifted ASCII glyph;
// a usage absent from the table has no printable glyph.
var usageTable = map[byte]byte{
	0x04: 'a', 0x05: 'b', 0x06: 'c', 0x07: 'd', 0x08: 'e', 0x09: 'f',
	0x0a: 'g', 0x0b: 'h', 0x0c: 'i', 0x0d: 'j', 0x0e: 'k', 0x0f: 'l',
	0x10: 'm', 0x11: 'n', 0x12: 'o', 0x13: 'p', 0x14: 'q', 0x15: 'r',
	0x16: 's', 0x17: 't', 0x18: 'u', 0x19: 'v', 0x1a: 'w', 0x1b: 'x',
	0x1c: 'y', 0x1d: 'z',
	0x1e: '1', 0x1f: '2', 0x20: '3', 0x21: '4', 0x22: '5',
	0x23: '6', 0x24: '7', 0x25: '8', 0x26: '9', 0x27: '0',
	0x28: '\n', // Enter
	0x2b: '\t', // Tab
	0x2c: ' ',  // Space
	0x2d: '-', 0x2e: '=', 0x2f: '[', 0x30: ']', 0x31: '\\',
	0x33: ';', 0x34: '\'', 0x35: '`', 0x36: ',', 0x37: '.', 0x38: '/',
}

// usageTableShifted overrides usageTable entries when a shift modifier is
// held.
var usageTableShifted = map[byte]byte{
	0x1e: '!', 0x1f: '@', 0x20: '#', 0x21: '$', 0x22: '%',
	0x23: '^', 0x24: '&', 0x25: '*', 0x26: '(', 0x27: ')',
	0x2d: '_', 0x2e: '+', 0x2f: '{', 0x30: '}', 0x31: '|',
	0x33: ':', 0x34: '"', 0x35: '~', 0x36: '<', 0x37: '>', 0x38: '?',
}

// Decode translates an 8-byte boot-keyboard report (byte 0 the modifier
// bitmap, byte 2 the first key usage) into an ASCII glyph, honoring
// shift state. Returns ok=false if byte 2 carries no usage (0) or maps
// to no printable glyph.
func Decode(report [ReportSize]byte) (glyph byte, ok bool) {
	shift := report[0]&ModLeftShift != 0 || report[0]&ModRightShift != 0
	usage := report[2]

	if usage == 0 {
		return 0, false
	}

	if shift {
		if g, found := usageTableShifted[usage]; found {
			return upperIfLetter(g, shift), true
		}
	}

	g, found := usageTable[usage]
	if !found {
		return 0, false
	}

	return upperIfLetter(g, shift), true
}

func upperIfLetter(g byte, shift bool) byte {
	if shift && g >= 'a' && g <= 'z' {
		return g - ('a' - 'A')
	}
	return g
}
