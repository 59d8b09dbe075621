// Copyright (c) The Kestrel Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package journal implements the append-only action lifecycle audit
// stream: ASCII lines of the form
//
//	seq=<n> <VERB> <kv pairs>\n
//
// written to the debug port. There is no error path; a journal write is
// a side effect only and never fails its caller.
package journal

import (
	"fmt"
	"io"
	"strings"
)

// Verb identifies an action lifecycle transition.
type Verb string

const (
	Intent    Verb = "INTENT"
	ApplyOK   Verb = "APPLY_OK"
	ApplyFail Verb = "APPLY_FAIL"
	Reject    Verb = "REJECT"
)

// KV is one key=value pair appended to a journal line, in call order (not
// re-sorted) so output is reproducible for tests.
type KV struct {
	Key   string
	Value any
}

// Sink writes journal records to an underlying io.Writer: the debug
// port in a real boot, stdout or a bytes.Buffer otherwise.
type Sink struct {
	w io.Writer
}

// NewSink wraps w as a journal sink.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// Record appends one lifecycle line. Write errors are ignored: the journal
// is a diagnostic side channel, not a contract any caller depends on for
// correctness.
func (s *Sink) Record(seq uint64, verb Verb, kv ...KV) {
	var b strings.Builder

	fmt.Fprintf(&b, "seq=%d %s", seq, verb)

	for _, p := range kv {
		fmt.Fprintf(&b, " %s=%v", p.Key, p.Value)
	}

	b.WriteByte('\n')

	_, _ = io.WriteString(s.w, b.String())
}
