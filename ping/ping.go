// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ping implements XEP-0199: XMPP Ping, a thin convenience wrapper
// around an IQ round trip that Session already special-cases for its
// timeout-escalates-to-Disconnected behavior.
package ping // import "codeberg.org/xmppcore/xmppcore/ping"

import (
	"context"
	"time"

	xmpp "codeberg.org/xmppcore/xmppcore"
	"codeberg.org/xmppcore/xmppcore/jid"
	"codeberg.org/xmppcore/xmppcore/stanza"
)

// IQ builds the get IQ that carries a ping request to to. A nil to pings
// the connected server itself.
func IQ(to *jid.JID) stanza.IQ {
	return stanza.IQ{To: to, Type: stanza.GetIQ}
}

// Send pings to over s and blocks until the server answers or timeout
// elapses. A timeout additionally causes s to emit a Disconnected error via
// its OnError callback, since a server that stops answering pings is
// assumed dead; see Session.IQRequest.
func Send(ctx context.Context, s *xmpp.Session, to *jid.JID, timeout time.Duration) error {
	_, err := s.IQRequest(ctx, IQ(to), xmpp.PingPayload(), timeout)
	return err
}
