// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package kernel

import "github.com/kestrel-os/kestrel/internal/ioport"

// Exit terminates the emulated environment through the isa-debug-exit
// port. It only makes sense under an emulator wired for it; on real
// hardware the write is ignored and the caller should fall back to a
// halt loop.
func Exit(code uint8) {
	ioport.Exit(ioport.Real8{Number: ioport.ExitPort}, code)
}
