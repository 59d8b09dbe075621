// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package journal

import "github.com/kestrel-os/kestrel/internal/ioport"

// PortWriter adapts an ioport.Port to an io.Writer, one WriteByte call
// per byte, so journal.NewSink can drive the real debug port the same
// way it drives any other io.Writer.
type PortWriter struct {
	Port ioport.Port
}

// Write implements io.Writer by writing each byte of p to the port.
func (p PortWriter) Write(b []byte) (int, error) {
	for _, c := range b {
		p.Port.WriteByte(c)
	}
	return len(b), nil
}
