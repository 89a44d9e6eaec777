// Copyright 2016 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"codeberg.org/xmppcore/xmppcore/stream"
)

// Version is the protocol version this implementation negotiates.
type Version = stream.Version

// DefaultVersion is the only stream version this implementation negotiates
// or accepts from a peer.
var DefaultVersion = stream.Version{Major: 1, Minor: 0}
