// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"encoding/xml"

	"codeberg.org/xmppcore/xmppcore/sm"
	"codeberg.org/xmppcore/xmppcore/stanza"
)

// SendMessage sends msg, assigning it a fresh id if it doesn't already
// have one. Per spec invariant 6, sends are rejected while the stream is
// mid-negotiation.
func (s *Session) SendMessage(msg stanza.Message, payload xml.TokenReader) error {
	if !s.Connected() {
		return newError(NotConnected, "SendMessage called before Connect completed", nil)
	}
	if msg.ID == "" {
		msg.ID = s.idGen.Next()
	}
	tokens := stanza.WrapMessage(msg.To, msg.Type, payload)
	tokens = &idInjector{inner: tokens, id: msg.ID, lang: msg.Lang}
	return s.writer.Send(tokens, true)
}

// SendPresence sends p, assigning it a fresh id if it doesn't already have
// one.
func (s *Session) SendPresence(p stanza.Presence, payload xml.TokenReader) error {
	if !s.Connected() {
		return newError(NotConnected, "SendPresence called before Connect completed", nil)
	}
	if p.ID == "" {
		p.ID = s.idGen.Next()
	}
	tokens := stanza.WrapPresence(p.To, p.Type, payload)
	tokens = &idInjector{inner: tokens, id: p.ID, lang: p.Lang}
	return s.writer.Send(tokens, true)
}

// EnableStreamManagement turns on XEP-0198 for the remainder of this
// session: the replay cache, ack cadence, and drop-detection/resumption
// state machine all become active once the server confirms with
// <enabled/>.
func (s *Session) EnableStreamManagement(withResumption bool, maxSeconds int) error {
	if !s.Connected() {
		return newError(NotConnected, "EnableStreamManagement called before Connect completed", nil)
	}
	if s.sm == nil {
		s.sm = sm.NewEngine(sm.Config{
			Tick:          s.cfg.SMTick,
			AckSilence:    s.cfg.SMAckSilence,
			DropSilence:   s.cfg.SMDropSilence,
			ResumeBudget:  s.cfg.SMResumeBudget,
			ResumeTries:   s.cfg.SMResumeTries,
			ReconnectWait: s.cfg.SMReconnectWait,
			ReconnectTries: s.cfg.SMReconnectTries,
		}, sm.Hooks{
			SendRaw:    func(b []byte) error { return s.writer.SendRaw(b, false) },
			Resume:     s.attemptResume,
			Reconnect:  s.reconnect,
			OnEnabled:  func() { s.invokeSMEnabled() },
			OnResumed:  func() { s.invokeStreamResumed() },
			OnError:    s.emitError,
			Disconnect: func(err error) { s.handleDisconnect(err) },
		})
		s.writer.attach(s.sm)
	}
	return s.sm.Enable(withResumption, maxSeconds)
}

func (s *Session) invokeSMEnabled() {
	if s.onSMEnabled != nil {
		s.onSMEnabled()
	}
}

func (s *Session) invokeStreamResumed() {
	if s.onStreamResumed != nil {
		s.onStreamResumed()
	}
}
