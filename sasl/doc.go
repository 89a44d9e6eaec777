// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package sasl adapts SASL mechanisms for stream authentication.
//
// Mechanism is deliberately smaller than mellium.im/sasl's own
// interface so that a hand-rolled DIGEST-MD5 implementation (which
// mellium.im/sasl does not provide) can sit alongside mechanisms adapted
// from it.
package sasl // import "codeberg.org/xmppcore/xmppcore/sasl"
