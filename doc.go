// Copyright 2014 Sam Whited.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmpp implements a client-side XMPP stream: connection bring-up
// (DNS SRV, STARTTLS, SASL, resource binding), a full-duplex stream engine,
// an IQ request/response correlator, and XEP-0198 Stream Management.
//
// The package never logs; background-task failures surface exclusively
// through the OnError callback and returned errors, leaving logging as an
// application-layer concern.
//
// The jid package provides an implementation of the XMPP address format
// defined in RFC 7622.
package xmpp // import "codeberg.org/xmppcore/xmppcore"
