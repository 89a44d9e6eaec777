// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"bytes"
	"encoding/xml"
	"io"
	"sync"

	"mellium.im/xmlstream"

	"codeberg.org/xmppcore/xmppcore/sm"
)

// Writer serializes every outgoing element to its canonical XML encoding
// and writes it to the transport under a single mutex, satisfying spec
// invariant 4 (at most one writer touches the transport at any instant).
// When a Stream Management engine is attached, eligible sends are appended
// to its replay cache and counted against outbound_seq atomically with the
// write, satisfying invariant 2.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
	sm *sm.Engine

	disconnect func(error)
}

func newWriter(w io.Writer, disconnect func(error)) *Writer {
	return &Writer{w: w, disconnect: disconnect}
}

// attach wires e into the writer so that cached sends are recorded in its
// replay cache. Passing nil detaches any previously attached engine.
func (wr *Writer) attach(e *sm.Engine) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	wr.sm = e
}

// rebind swaps the underlying transport after a stream restart
// (post-STARTTLS, post-resume) without losing the writer's identity or
// its attached Stream Management engine.
func (wr *Writer) rebind(w io.Writer) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	wr.w = w
}

// Send marshals tokens to UTF-8 XML and writes the result to the
// transport. cache controls whether the bytes also become eligible for SM
// replay; stanzas (iq/message/presence) pass true, negotiation and SM
// protocol frames themselves always pass false.
func (wr *Writer) Send(tokens xml.TokenReader, cache bool) error {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if _, err := xmlstream.Copy(enc, tokens); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	return wr.sendRaw(buf.Bytes(), cache)
}

// SendRaw writes pre-serialized bytes directly; used for stream-level
// framing (stream open/close) that's rendered outside an xml.Encoder.
func (wr *Writer) SendRaw(b []byte, cache bool) error {
	return wr.sendRaw(b, cache)
}

func (wr *Writer) sendRaw(b []byte, cache bool) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	_, err := wr.w.Write(b)
	if err != nil {
		if wr.disconnect != nil {
			wr.disconnect(err)
		}
		return newError(IoError, "write failed", err)
	}
	if cache && wr.sm != nil {
		wr.sm.RecordSent(b)
	}
	return nil
}
