// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cpio

import (
	"bytes"
	"fmt"
	"testing"
)

// buildArchive constructs a minimal newc archive containing one named
// entry followed by the standard TRAILER!!! record.
func buildArchive(t *testing.T, name string, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	writeEntry(t, &buf, name, data)
	writeEntry(t, &buf, trailer, nil)

	return buf.Bytes()
}

func writeEntry(t *testing.T, buf *bytes.Buffer, name string, data []byte) {
	t.Helper()

	nameBytes := append([]byte(name), 0)

	header := fmt.Sprintf("%s%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x",
		magic,
		0,             // c_ino
		0100644,       // c_mode
		0,             // c_uid
		0,             // c_gid
		1,             // c_nlink
		0,             // c_mtime
		len(data),     // c_filesize
		0,             // c_devmajor
		0,             // c_devminor
		0,             // c_rdevmajor
		0,             // c_rdevminor
		len(nameBytes), // c_namesize
		0,             // c_check
	)

	buf.WriteString(header)
	buf.Write(nameBytes)
	padTo4(buf)
	buf.Write(data)
	padTo4(buf)
}

func padTo4(buf *bytes.Buffer) {
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

func TestFindLocatesEntryByExactName(t *testing.T) {
	archive := buildArchive(t, "ai.mod", []byte("AIMDweights"))

	data, ok := Find(archive, "ai.mod")
	if !ok {
		t.Fatalf("Find did not locate ai.mod")
	}
	if string(data) != "AIMDweights" {
		t.Fatalf("data = %q, want %q", data, "AIMDweights")
	}
}

func TestFindAcceptsDotSlashPrefixEquivalence(t *testing.T) {
	archive := buildArchive(t, "./ai.mod", []byte("payload"))

	data, ok := Find(archive, "ai.mod")
	if !ok {
		t.Fatalf("Find did not match ./ai.mod against ai.mod")
	}
	if string(data) != "payload" {
		t.Fatalf("data = %q, want %q", data, "payload")
	}
}

func TestFindMissingNameReturnsFalse(t *testing.T) {
	archive := buildArchive(t, "ai.mod", []byte("x"))

	if _, ok := Find(archive, "other.bin"); ok {
		t.Fatalf("Find should not locate a name absent from the archive")
	}
}

func TestFindSkipsEarlierEntries(t *testing.T) {
	var buf bytes.Buffer
	writeEntry(t, &buf, "init", []byte("ignore me"))
	writeEntry(t, &buf, "ai.mod", []byte("the model"))
	writeEntry(t, &buf, trailer, nil)

	data, ok := Find(buf.Bytes(), "ai.mod")
	if !ok {
		t.Fatalf("Find did not locate ai.mod past an earlier entry")
	}
	if string(data) != "the model" {
		t.Fatalf("data = %q, want %q", data, "the model")
	}
}

func TestFindTruncatedArchiveReturnsFalse(t *testing.T) {
	archive := buildArchive(t, "ai.mod", []byte("AIMDweights"))

	if _, ok := Find(archive[:headerSize-1], "ai.mod"); ok {
		t.Fatalf("Find should reject a truncated header")
	}
}

func TestFindBadMagicReturnsFalse(t *testing.T) {
	archive := buildArchive(t, "ai.mod", []byte("x"))
	archive[0] = 'X'

	if _, ok := Find(archive, "ai.mod"); ok {
		t.Fatalf("Find should reject a bad magic")
	}
}
