// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/xml"
	"errors"

	"codeberg.org/xmppcore/xmppcore/internal/attr"
	"codeberg.org/xmppcore/xmppcore/internal/ns"
	istream "codeberg.org/xmppcore/xmppcore/internal/stream"
	"codeberg.org/xmppcore/xmppcore/stanza"
)

// startDispatch launches the read loop (on top of the Stream Parser) and
// the Inbox Dispatcher second stage. Both are recreated fresh on every
// reconnect/resume, per spec.md §3's Parser lifecycle.
func (s *Session) startDispatch() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelDispatch = cancel
	s.inbox = make(chan inboxItem, 64)
	s.dispatchDone = make(chan struct{})

	go s.inboxLoop(ctx)
	go s.readLoop(ctx)
}

// readLoop is the Dispatcher: one token-reading goroutine per stream
// lifetime, routing every top-level child element per spec.md §4.E's
// table.
func (s *Session) readLoop(ctx context.Context) {
	defer close(s.dispatchDone)
	for {
		el, err := s.parser.Next()
		if err != nil {
			s.handleReadError(err)
			return
		}
		if err := s.route(el); err != nil && s.onError != nil {
			s.onError(newError(ProtocolError, "malformed stream element", err))
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *Session) handleReadError(err error) {
	s.cancelWaiters()
	s.stateMu.Lock()
	s.connected = false
	s.stateMu.Unlock()

	if s.sm != nil {
		s.sm.NotifyDisconnected(err)
		return
	}
	s.emitError(newError(IoError, "disconnected", err))
}

func (s *Session) route(el *istream.Element) error {
	switch {
	case el.Name.Local == "iq" && isStanzaNS(el.Name.Space):
		return s.routeIQ(el)
	case el.Name.Local == "message" && isStanzaNS(el.Name.Space):
		return s.routeMessage(el)
	case el.Name.Local == "presence" && isStanzaNS(el.Name.Space):
		return s.routePresence(el)
	case el.Name.Local == "r" && el.Name.Space == ns.SM:
		return s.routeSMRequest()
	case el.Name.Local == "a" && el.Name.Space == ns.SM:
		return s.routeSMAck(el)
	case el.Name.Local == "enabled" && el.Name.Space == ns.SM:
		return s.routeSMEnabled(el)
	case el.Name.Local == "resumed" && el.Name.Space == ns.SM:
		return s.routeSMResumed(el)
	case el.Name.Local == "failed" && el.Name.Space == ns.SM:
		return s.routeSMFailed(el)
	}
	// Unknown top-level elements are silently ignored; the stream-level
	// reader (internal/stream.Reader) has already rejected anything
	// disallowed at this depth.
	return nil
}

func isStanzaNS(space string) bool {
	return space == ns.Client || space == ns.Server || space == ""
}

func (s *Session) routeIQ(el *istream.Element) error {
	var iq stanza.IQ
	if err := el.Decode(&iq); err != nil {
		return err
	}
	s.bumpInbound()
	if iq.IsRequest() {
		s.enqueue(inboxItem{iq: &iq})
	} else {
		s.onIQResponse(&iq)
	}
	return nil
}

func (s *Session) routeMessage(el *istream.Element) error {
	var msg stanza.Message
	if err := el.Decode(&msg); err != nil {
		return err
	}
	s.bumpInbound()
	s.enqueue(inboxItem{message: &msg})
	return nil
}

func (s *Session) routePresence(el *istream.Element) error {
	var p stanza.Presence
	if err := el.Decode(&p); err != nil {
		return err
	}
	s.bumpInbound()
	s.enqueue(inboxItem{presence: &p})
	return nil
}

func (s *Session) bumpInbound() {
	if s.sm != nil {
		s.sm.RecordReceived()
	}
}

func (s *Session) routeSMRequest() error {
	h := uint32(0)
	if s.sm != nil {
		h = s.sm.InboundSeq()
	}
	frame := []byte(`<a xmlns='urn:xmpp:sm:3' h='` + uitoa(h) + `'/>`)
	return s.writer.SendRaw(frame, false)
}

func (s *Session) routeSMAck(el *istream.Element) error {
	h, err := smSeq(el)
	if err != nil {
		return err
	}
	s.bumpInbound()
	if s.sm != nil {
		s.sm.HandleAck(h)
	}
	return nil
}

type smEnabledFrame struct {
	Resume string `xml:"resume,attr"`
	ID     string `xml:"id,attr"`
	Max    int    `xml:"max,attr"`
}

func (s *Session) routeSMEnabled(el *istream.Element) error {
	var f smEnabledFrame
	if err := el.Decode(&f); err != nil {
		return err
	}
	if s.sm != nil {
		s.sm.HandleEnabled(f.Resume == "true", f.ID, f.Max)
	}
	return nil
}

func (s *Session) routeSMResumed(el *istream.Element) error {
	h, err := smSeq(el)
	if err != nil {
		return err
	}
	if s.sm != nil {
		s.sm.HandleResumed(h)
	}
	return nil
}

type smFailedFrame struct {
	H string `xml:"h,attr"`
	Cond struct {
		XMLName xml.Name
	} `xml:",any"`
}

func (s *Session) routeSMFailed(el *istream.Element) error {
	var f smFailedFrame
	if err := el.Decode(&f); err != nil {
		return err
	}
	var h *uint32
	if f.H != "" {
		v, err := atou32(f.H)
		if err == nil {
			h = &v
		}
	}
	itemNotFound := f.Cond.XMLName.Local == "item-not-found"
	if s.sm != nil {
		s.sm.HandleFailed(h, itemNotFound, errors.New("xmpp: stream management resume failed: "+f.Cond.XMLName.Local))
	}
	return nil
}

func smSeq(el *istream.Element) (uint32, error) {
	if _, h := attr.Get(el.Attr, "h"); h != "" {
		return atou32(h)
	}
	return 0, errors.New("xmpp: sm frame missing h attribute")
}

// enqueue pushes item onto the inbox FIFO. The inbox channel is sized
// generously, but if it's ever full it's because the application's
// callbacks are badly backed up; blocking here (rather than dropping) is
// the correct backpressure since spec.md §8 invariant 6 requires no
// omissions.
func (s *Session) enqueue(item inboxItem) {
	s.inbox <- item
}

// inboxLoop is the Inbox Dispatcher: a single consumer draining the inbox
// FIFO and invoking application callbacks one at a time, guaranteeing
// linearizable delivery order per stream.
func (s *Session) inboxLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-s.inbox:
			switch {
			case item.iq != nil && s.onIQ != nil:
				s.onIQ(*item.iq)
			case item.message != nil && s.onMessage != nil:
				s.onMessage(*item.message)
			case item.presence != nil && s.onPresence != nil:
				s.onPresence(*item.presence)
			}
		}
	}
}
