// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import "golang.org/x/sys/unix"

// mapBacking reserves the anonymous mapping that stands in for the
// physical memory window a bare-metal boot would get from the memory
// map.
func mapBacking(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}
