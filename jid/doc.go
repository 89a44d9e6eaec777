// Copyright 2014 The Contributors.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

// Package jid implements the XMPP address format described in RFC 7622,
// historically known as a "Jabber ID".
package jid // import "codeberg.org/xmppcore/xmppcore/jid"
