// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"encoding/xml"
	"fmt"

	"codeberg.org/xmppcore/xmppcore/internal/ns"
	"codeberg.org/xmppcore/xmppcore/jid"
	"codeberg.org/xmppcore/xmppcore/sm"
	"codeberg.org/xmppcore/xmppcore/transport"
)

// dialOrigin resolves the jid.JID a fresh dial negotiates against, and the
// server override (if any) from the session's Config. server is non-empty
// only when Config.ServerOverride is set, in which case port is the literal
// port to dial it on (the override's own port if set, else Config.Port) and
// SRV lookup is bypassed entirely per spec.md §6.
func (s *Session) dialOrigin() (origin jid.JID, server string, port uint16, err error) {
	origin, err = jid.New("", s.cfg.Hostname, "")
	if err != nil {
		return jid.JID{}, "", 0, newError(ArgumentError, "invalid hostname", err)
	}
	if s.cfg.ServerOverride != nil {
		server = s.cfg.ServerOverride.IP.String()
		port = s.cfg.Port
		if s.cfg.ServerOverride.Port != 0 {
			port = uint16(s.cfg.ServerOverride.Port)
		}
	}
	return origin, server, port, nil
}

// reconnect performs a full bring-up (STARTTLS, SASL, resource binding)
// over a brand new transport, replacing the session's transport and
// restarting the Dispatcher. It is the Reconnect hook handed to the Stream
// Management engine; the engine re-sends <enable/> itself once this
// returns successfully.
func (s *Session) reconnect(ctx context.Context) error {
	origin, server, port, err := s.dialOrigin()
	if err != nil {
		return err
	}

	tr, err := transport.Dial(ctx, origin, server, port)
	if err != nil {
		return newError(IoError, "reconnect dial", err)
	}

	if s.cancelDispatch != nil {
		s.cancelDispatch()
	}
	s.transport = tr
	s.writer.rebind(tr)
	s.stateMu.Lock()
	s.encrypted = false
	s.stateMu.Unlock()

	if err := s.negotiate(ctx, origin, "", true); err != nil {
		tr.Close()
		return err
	}

	s.stateMu.Lock()
	s.connected = true
	s.stateMu.Unlock()
	s.startDispatch()
	return nil
}

// attemptResume dials a fresh transport, replays SASL (without binding),
// and asks the server to resume the prior stream at h/previd. It is the
// Resume hook handed to the Stream Management engine.
func (s *Session) attemptResume(ctx context.Context, h uint32, previd string) (sm.ResumeResult, error) {
	origin, server, port, err := s.dialOrigin()
	if err != nil {
		return sm.ResumeResult{}, err
	}

	tr, err := transport.Dial(ctx, origin, server, port)
	if err != nil {
		return sm.ResumeResult{}, newError(IoError, "resume dial", err)
	}

	if s.cancelDispatch != nil {
		s.cancelDispatch()
	}
	s.transport = tr
	s.writer.rebind(tr)
	s.stateMu.Lock()
	s.encrypted = false
	s.stateMu.Unlock()

	fd, err := s.negotiateUntilSASL(ctx, origin)
	if err != nil {
		tr.Close()
		return sm.ResumeResult{}, err
	}
	if s.cfg.Username != "" && s.cfg.Password != "" {
		if err := s.doSASL(ctx, origin, fd); err != nil {
			tr.Close()
			return sm.ResumeResult{}, err
		}
		s.stateMu.Lock()
		s.authenticated = true
		s.stateMu.Unlock()
	}

	frame := fmt.Sprintf(`<resume xmlns='%s' h='%s' previd='%s'/>`, ns.SM, uitoa(h), xmlAttrEscape(previd))
	if err := s.writer.SendRaw([]byte(frame), false); err != nil {
		tr.Close()
		return sm.ResumeResult{}, err
	}

	el, err := s.parser.Next(
		xml.Name{Space: ns.SM, Local: "resumed"},
		xml.Name{Space: ns.SM, Local: "failed"},
	)
	if err != nil {
		tr.Close()
		return sm.ResumeResult{}, err
	}

	if el.Name.Local == "resumed" {
		ackH, err := smSeq(el)
		if err != nil {
			tr.Close()
			return sm.ResumeResult{}, err
		}
		s.stateMu.Lock()
		s.connected = true
		s.stateMu.Unlock()
		s.startDispatch()
		return sm.ResumeResult{Resumed: true, AckH: ackH}, nil
	}

	var f smFailedFrame
	if err := el.Decode(&f); err != nil {
		tr.Close()
		return sm.ResumeResult{}, err
	}
	var failedH *uint32
	if f.H != "" {
		if v, err := atou32(f.H); err == nil {
			failedH = &v
		}
	}
	itemNotFound := f.Cond.XMLName.Local == "item-not-found"
	tr.Close()
	return sm.ResumeResult{Resumed: false, FailedH: failedH, ItemNotFound: itemNotFound}, nil
}
