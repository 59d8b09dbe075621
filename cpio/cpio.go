// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package cpio implements just enough of the CPIO newc archive format
// (magic "070701", 110-byte ASCII-hex header, 4-byte alignment) to
// locate one named entry in an initrd: the ai.mod model blob is the only
// lookup the kernel performs. Full archive parsing, writing, and
// checksum validation are out of scope.
package cpio

import (
	"bytes"
	"encoding/hex"
)

const (
	magic      = "070701"
	headerSize = 110
	trailer    = "TRAILER!!!"
)

// Find walks archive's newc entries in order and returns the data of
// the first entry named name, accepting both name and "./"+name as a
// match. ok is false if archive is malformed or name is not present;
// Find never panics on truncated or corrupt input.
func Find(archive []byte, name string) (data []byte, ok bool) {
	off := 0

	for {
		entry, next, eOK := readEntry(archive, off)
		if !eOK {
			return nil, false
		}

		if entry.name == trailer {
			return nil, false
		}

		if matches(entry.name, name) {
			return entry.data, true
		}

		off = next
	}
}

type entry struct {
	name string
	data []byte
}

// matches implements the ai.mod / ./ai.mod equivalence.
func matches(entryName, want string) bool {
	if entryName == want {
		return true
	}
	return "./"+entryName == want || entryName == "./"+want
}

// readEntry parses one newc header + name + data record starting at off,
// returning the entry and the offset of the next record (4-byte aligned
// past the data). ok is false on any truncation or magic mismatch.
func readEntry(archive []byte, off int) (e entry, next int, ok bool) {
	if off+headerSize > len(archive) {
		return entry{}, 0, false
	}

	h := archive[off : off+headerSize]
	if string(h[0:6]) != magic {
		return entry{}, 0, false
	}

	nameSize, ok1 := hexField(h, 94)
	fileSize, ok2 := hexField(h, 54)
	if !ok1 || !ok2 {
		return entry{}, 0, false
	}

	nameStart := off + headerSize
	nameEnd := nameStart + nameSize
	if nameEnd > len(archive) || nameSize == 0 {
		return entry{}, 0, false
	}

	// name includes a terminating NUL; strip it.
	rawName := archive[nameStart:nameEnd]
	nameBytes := rawName
	if i := bytes.IndexByte(rawName, 0); i >= 0 {
		nameBytes = rawName[:i]
	}
	name := string(nameBytes)

	dataStart := align4(nameEnd)
	dataEnd := dataStart + fileSize
	if dataEnd > len(archive) {
		return entry{}, 0, false
	}

	e = entry{name: name, data: archive[dataStart:dataEnd]}
	next = align4(dataEnd)

	return e, next, true
}

// hexField decodes the 8-byte ASCII-hex field at byte offset off within a
// newc header into an int.
func hexField(h []byte, off int) (int, bool) {
	if off+8 > len(h) {
		return 0, false
	}
	var buf [4]byte
	if _, err := hex.Decode(buf[:], h[off:off+8]); err != nil {
		return 0, false
	}
	return int(buf[0])<<24 | int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3]), true
}

func align4(n int) int {
	return (n + 3) &^ 3
}
