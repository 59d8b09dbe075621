// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package xhci

import (
	"testing"

	"github.com/kestrel-os/kestrel/pmm"
)

// newTestRegion builds a heap-backed physical memory region for tests that
// need the controller's bump allocator without real DMA-capable memory.
func newTestRegion(t *testing.T, size uint64) *pmm.Region {
	t.Helper()

	backing := make([]byte, size)
	memMap := []pmm.MemoryMapEntry{{Base: 0x1000, Length: size, Type: pmm.TypeUsable}}

	region, err := pmm.Init(memMap, 0x1000, backing[:size])
	if err != nil {
		t.Fatalf("pmm.Init: %v", err)
	}
	return region
}
