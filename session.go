// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"context"
	"sync"

	"golang.org/x/text/language"

	"codeberg.org/xmppcore/xmppcore/internal/attr"
	istream "codeberg.org/xmppcore/xmppcore/internal/stream"
	"codeberg.org/xmppcore/xmppcore/jid"
	"codeberg.org/xmppcore/xmppcore/sm"
	"codeberg.org/xmppcore/xmppcore/stanza"
	"codeberg.org/xmppcore/xmppcore/transport"
)

// Session is a live XMPP client stream. The zero value is not usable; use
// New to construct one from a Config.
type Session struct {
	cfg Config

	transport *transport.Transport
	writer    *Writer
	parser    *istream.Parser

	idGen *attr.IQIDGenerator

	iqMu      sync.Mutex
	waiters   map[string]chan *stanza.IQ
	callbacks map[string]func(*stanza.IQ)

	sm *sm.Engine

	stateMu       sync.RWMutex
	bound         jid.JID
	connected     bool
	authenticated bool
	encrypted     bool

	cancelDispatch context.CancelFunc
	inbox          chan inboxItem
	dispatchDone   chan struct{}

	onError         func(error)
	onIQ            func(stanza.IQ)
	onMessage       func(stanza.Message)
	onPresence      func(stanza.Presence)
	onSMEnabled     func()
	onStreamResumed func()

	closeOnce sync.Once
}

// inboxItem is one fully parsed inbound stanza awaiting delivery to an
// application callback, in the order the Dispatcher observed it on the
// wire.
type inboxItem struct {
	iq       *stanza.IQ
	message  *stanza.Message
	presence *stanza.Presence
}

// New constructs a Session from cfg. The returned Session is not yet
// connected; call Connect to perform the bring-up sequence.
func New(cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:       cfg,
		idGen:     attr.NewIQIDGenerator(),
		waiters:   make(map[string]chan *stanza.IQ),
		callbacks: make(map[string]func(*stanza.IQ)),
	}
}

// Connect dials the configured server, negotiates the stream (STARTTLS,
// SASL if credentials are configured, resource binding if requested), and
// starts the Dispatcher. resource may be empty to let the server assign
// one.
func (s *Session) Connect(ctx context.Context, resource string, bind bool) error {
	if s.cfg.Hostname == "" {
		return newError(ArgumentError, "empty hostname", nil)
	}

	origin, server, port, err := s.dialOrigin()
	if err != nil {
		return err
	}

	tr, err := transport.Dial(ctx, origin, server, port)
	if err != nil {
		return newError(IoError, "dial", err)
	}
	s.transport = tr

	s.writer = newWriter(tr, s.handleDisconnect)

	if err := s.negotiate(ctx, origin, resource, bind); err != nil {
		tr.Close()
		return err
	}

	s.stateMu.Lock()
	s.connected = true
	s.stateMu.Unlock()

	s.startDispatch()
	return nil
}

// Authenticate forces a fresh Connect using new credentials, tearing down
// any existing stream first.
func (s *Session) Authenticate(ctx context.Context, username, password string) error {
	s.cfg.Username = username
	s.cfg.Password = password
	if s.transport != nil {
		s.Close()
		s.closeOnce = sync.Once{}
	}
	return s.Connect(ctx, "", true)
}

// Close sends the closing stream tag, stops the Dispatcher and any Stream
// Management timer, and closes the transport. Close is safe to call more
// than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.writer != nil {
			_ = s.writer.SendRaw([]byte(`</stream:stream>`), false)
		}
		if s.cancelDispatch != nil {
			s.cancelDispatch()
		}
		if s.sm != nil {
			s.sm.Stop()
		}
		if s.transport != nil {
			err = s.transport.Close()
		}
		s.stateMu.Lock()
		s.connected = false
		s.authenticated = false
		s.stateMu.Unlock()
		s.cancelWaiters()
	})
	return err
}

// JID returns the full bound JID, or the zero JID if resource binding
// hasn't completed yet.
func (s *Session) JID() jid.JID {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.bound
}

// Connected reports whether the stream is currently up.
func (s *Session) Connected() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.connected
}

// Authenticated reports whether SASL has completed successfully on the
// current stream.
func (s *Session) Authenticated() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.authenticated
}

// IsEncrypted reports whether the underlying transport is currently
// running over TLS.
func (s *Session) IsEncrypted() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.encrypted
}

// DefaultLanguage returns the xml:lang this session advertises on outgoing
// streams.
func (s *Session) DefaultLanguage() language.Tag {
	return s.cfg.Lang
}

// OnError registers the callback invoked when a background task (the
// Dispatcher or the Stream Management tick) fails.
func (s *Session) OnError(f func(error)) { s.onError = f }

// OnIQ registers the callback invoked for every inbound IQ request
// (get/set) that the application, not the IQ Correlator, is responsible
// for answering.
func (s *Session) OnIQ(f func(stanza.IQ)) { s.onIQ = f }

// OnMessage registers the callback invoked for every inbound message.
func (s *Session) OnMessage(f func(stanza.Message)) { s.onMessage = f }

// OnPresence registers the callback invoked for every inbound presence.
func (s *Session) OnPresence(f func(stanza.Presence)) { s.onPresence = f }

// OnStreamManagementEnabled registers the callback invoked once the server
// confirms Stream Management is enabled.
func (s *Session) OnStreamManagementEnabled(f func()) { s.onSMEnabled = f }

// OnStreamResumed registers the callback invoked after a successful
// XEP-0198 resumption.
func (s *Session) OnStreamResumed(f func()) { s.onStreamResumed = f }

func (s *Session) emitError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}

// handleDisconnect is called by the Writer the moment a transport write
// fails, and by the Stream Management engine's Disconnect hook (the
// Dispatcher handles read failures in handleReadError). It marks the session disconnected and,
// if Stream Management is enabled, hands recovery off to the engine
// instead of surfacing a terminal error immediately.
func (s *Session) handleDisconnect(cause error) {
	s.stateMu.Lock()
	s.connected = false
	s.stateMu.Unlock()

	s.cancelWaiters()

	if s.sm != nil {
		s.sm.NotifyDisconnected(cause)
		return
	}
	s.emitError(newError(IoError, "disconnected", cause))
}
