// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package sm implements the XEP-0198 Stream Management state machine: the
// replay cache, ack cadence, and the drop-detection/resumption/reconnect
// state machine that keeps a stream alive across transient network
// failures. It has no notion of XML or transports of its own; the owning
// session supplies those via the Hooks it passes to NewEngine, so that sm
// never imports the root package and the root package drives all I/O.
package sm // import "codeberg.org/xmppcore/xmppcore/sm"
