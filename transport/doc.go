// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package transport provides the byte-level duplex connection an XMPP
// stream is layered on top of: TCP connect (via dial's SRV-aware dialer),
// an optional in-place STARTTLS upgrade, and buffered read/write.
package transport // import "codeberg.org/xmppcore/xmppcore/transport"
