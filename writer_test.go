// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"bytes"
	"encoding/xml"
	"io"
	"testing"
	"time"

	"codeberg.org/xmppcore/xmppcore/sm"
)

func TestWriterSendRawWritesBytes(t *testing.T) {
	var buf bytes.Buffer
	w := newWriter(&buf, nil)
	if err := w.SendRaw([]byte("<a/>"), false); err != nil {
		t.Fatalf("SendRaw: %v", err)
	}
	if buf.String() != "<a/>" {
		t.Errorf("got %q, want %q", buf.String(), "<a/>")
	}
}

func TestWriterSendEncodesTokens(t *testing.T) {
	var buf bytes.Buffer
	w := newWriter(&buf, nil)
	tokens := &staticTokenReader{toks: []xml.Token{
		xml.StartElement{Name: xml.Name{Local: "iq"}},
		xml.EndElement{Name: xml.Name{Local: "iq"}},
	}}
	if err := w.Send(tokens, false); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if buf.String() != "<iq></iq>" {
		t.Errorf("got %q, want %q", buf.String(), "<iq></iq>")
	}
}

func TestWriterAttachDoesNotDisturbPlainWrites(t *testing.T) {
	var buf bytes.Buffer
	w := newWriter(&buf, nil)
	e := sm.NewEngine(sm.Config{
		Tick: time.Hour, AckSilence: time.Hour, DropSilence: time.Hour,
		ResumeBudget: time.Hour, ResumeTries: 1,
		ReconnectWait: time.Hour, ReconnectTries: 1,
	}, sm.Hooks{SendRaw: func([]byte) error { return nil }})
	defer e.Stop()
	w.attach(e)
	if err := e.Enable(false, 0); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	if err := w.SendRaw([]byte("<message/>"), true); err != nil {
		t.Fatalf("SendRaw with cache=true: %v", err)
	}
	if err := w.SendRaw([]byte("<iq/>"), false); err != nil {
		t.Fatalf("SendRaw with cache=false: %v", err)
	}
	if got := e.InboundSeq(); got != 0 {
		t.Errorf("InboundSeq = %d, want 0 (writer only records outbound)", got)
	}
}

func TestWriterRebindSwapsTransport(t *testing.T) {
	var first, second bytes.Buffer
	w := newWriter(&first, nil)
	w.rebind(&second)
	if err := w.SendRaw([]byte("x"), false); err != nil {
		t.Fatalf("SendRaw: %v", err)
	}
	if first.Len() != 0 || second.String() != "x" {
		t.Error("rebind did not redirect writes to the new transport")
	}
}

func TestWriterWriteFailureCallsDisconnect(t *testing.T) {
	var called error
	w := newWriter(&failingWriter{err: errBoom}, func(err error) { called = err })
	if err := w.SendRaw([]byte("x"), false); err == nil {
		t.Fatal("expected an error")
	}
	if called != errBoom {
		t.Errorf("disconnect hook got %v, want %v", called, errBoom)
	}
}

// staticTokenReader replays a fixed token slice, grounded on the teacher's
// habit of hand-rolling small xml.TokenReader fakes in tests rather than
// pulling in a mocking library.
type staticTokenReader struct {
	toks []xml.Token
	i    int
}

func (r *staticTokenReader) Token() (xml.Token, error) {
	if r.i >= len(r.toks) {
		return nil, io.EOF
	}
	tok := r.toks[r.i]
	r.i++
	return tok, nil
}

type failingWriter struct{ err error }

func (f *failingWriter) Write(p []byte) (int, error) { return 0, f.err }

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
