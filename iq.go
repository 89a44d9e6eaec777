// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/xml"
	"io"
	"time"

	"codeberg.org/xmppcore/xmppcore/internal/ns"
	"codeberg.org/xmppcore/xmppcore/stanza"
)

// pingNamespace marks a pending IQ request as the server-directed
// keepalive special-cased by request_sync's timeout handling.
const pingNamespace = ns.Ping

// IQRequest sends iq, which must be a Get or Set, and blocks until a
// matching Result or Error arrives, the session disconnects, or timeout
// elapses (a non-positive timeout, the default, waits forever). A timed
// out request to urn:xmpp:ping additionally emits a Disconnected error via
// OnError, since a server that stops answering pings is assumed dead.
func (s *Session) IQRequest(ctx context.Context, iq stanza.IQ, payload xml.TokenReader, timeout time.Duration) (*stanza.IQ, error) {
	if !iq.IsRequest() {
		return nil, newError(ArgumentError, "IQRequest called with a non-request IQ type", nil)
	}
	if !s.Connected() {
		return nil, newError(NotConnected, "IQRequest called before Connect completed", nil)
	}

	iq.ID = s.idGen.Next()
	waiter := make(chan *stanza.IQ, 1)

	s.iqMu.Lock()
	s.waiters[iq.ID] = waiter
	s.iqMu.Unlock()

	isPing := payload != nil && isPingPayload(payload)

	if err := s.sendIQ(iq, payload); err != nil {
		s.iqMu.Lock()
		delete(s.waiters, iq.ID)
		s.iqMu.Unlock()
		return nil, err
	}

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case resp := <-waiter:
		if resp == nil {
			return nil, newError(IoError, "session disconnected while awaiting IQ response", nil)
		}
		return resp, nil
	case <-timeoutCh:
		s.iqMu.Lock()
		delete(s.waiters, iq.ID)
		s.iqMu.Unlock()
		if isPing {
			s.emitError(newError(IoError, "ping timed out", nil))
		}
		return nil, newError(Timeout, "IQ request timed out", nil)
	case <-ctx.Done():
		s.iqMu.Lock()
		delete(s.waiters, iq.ID)
		s.iqMu.Unlock()
		return nil, ctx.Err()
	}
}

// IQRequestAsync sends iq (which must be a Get or Set) without blocking.
// cb, if non-nil, is invoked on a worker goroutine (never the Dispatcher's
// own goroutine) when the response arrives. It returns the id assigned to
// the request.
func (s *Session) IQRequestAsync(iq stanza.IQ, payload xml.TokenReader, cb func(*stanza.IQ)) (string, error) {
	if !iq.IsRequest() {
		return "", newError(ArgumentError, "IQRequestAsync called with a non-request IQ type", nil)
	}
	iq.ID = s.idGen.Next()

	if cb != nil {
		s.iqMu.Lock()
		s.callbacks[iq.ID] = cb
		s.iqMu.Unlock()
	}

	if err := s.sendIQ(iq, payload); err != nil {
		s.iqMu.Lock()
		delete(s.callbacks, iq.ID)
		s.iqMu.Unlock()
		return "", err
	}
	return iq.ID, nil
}

// IQResponse sends iq, which must be a Result or Error and carry the id of
// the request it answers, back to the peer.
func (s *Session) IQResponse(iq stanza.IQ, payload xml.TokenReader) error {
	if iq.IsRequest() {
		return newError(ArgumentError, "IQResponse called with a request IQ type", nil)
	}
	return s.sendIQ(iq, payload)
}

func (s *Session) sendIQ(iq stanza.IQ, payload xml.TokenReader) error {
	tokens := stanza.WrapIQ(iq.To, iq.Type, payload)
	tokens = &idInjector{inner: tokens, id: iq.ID, lang: iq.Lang}
	return s.writer.Send(tokens, true)
}

// idInjector rewrites the first StartElement's attribute list to add id
// and xml:lang, since stanza.WrapIQ doesn't carry them (it only has
// enough context to set to/type).
type idInjector struct {
	inner xml.TokenReader
	id    string
	lang  string
	done  bool
}

func (w *idInjector) Token() (xml.Token, error) {
	tok, err := w.inner.Token()
	if w.done || err != nil {
		return tok, err
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		return tok, err
	}
	w.done = true
	start = start.Copy()
	if w.id != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "id"}, Value: w.id})
	}
	if w.lang != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Space: "xml", Local: "lang"}, Value: w.lang})
	}
	return start, nil
}

// onIQResponse is called by the Dispatcher for every inbound Result/Error
// IQ. It fulfills a waiting request_sync rendezvous or schedules a
// callback, per spec.md §4.F.
func (s *Session) onIQResponse(iq *stanza.IQ) {
	s.iqMu.Lock()
	if w, ok := s.waiters[iq.ID]; ok {
		delete(s.waiters, iq.ID)
		s.iqMu.Unlock()
		w <- iq
		return
	}
	cb, ok := s.callbacks[iq.ID]
	if ok {
		delete(s.callbacks, iq.ID)
	}
	s.iqMu.Unlock()
	if ok {
		go cb(iq)
	}
}

// cancelWaiters fails every outstanding synchronous IQ request, called when
// the reader shuts down or the session closes. Callbacks registered via
// IQRequestAsync have no cancellation signal in this design; they simply
// never fire.
func (s *Session) cancelWaiters() {
	s.iqMu.Lock()
	waiters := s.waiters
	s.waiters = make(map[string]chan *stanza.IQ)
	s.callbacks = make(map[string]func(*stanza.IQ))
	s.iqMu.Unlock()

	for _, w := range waiters {
		select {
		case w <- nil:
		default:
		}
	}
}

// isPingPayload reports whether payload represents a urn:xmpp:ping
// request. Sessions build ping requests exclusively through the ping
// package, which tags them via PingPayload, so IQRequest can special-case
// their timeout without parsing the outgoing wire bytes back out.
func isPingPayload(payload xml.TokenReader) bool {
	p, ok := payload.(*pingMarker)
	return ok && p != nil
}

// pingMarker is the (empty) urn:xmpp:ping payload.
type pingMarker struct {
	state int
}

func (p *pingMarker) Token() (xml.Token, error) {
	switch p.state {
	case 0:
		p.state++
		return xml.StartElement{Name: xml.Name{Space: ns.Ping, Local: "ping"}}, nil
	case 1:
		p.state++
		return xml.EndElement{Name: xml.Name{Space: ns.Ping, Local: "ping"}}, io.EOF
	default:
		return nil, io.EOF
	}
}

// PingPayload returns the payload used by the ping package to build a
// urn:xmpp:ping IQ request that IQRequest recognizes for its timeout ->
// Disconnected special case.
func PingPayload() xml.TokenReader { return &pingMarker{} }
