// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"net"
	"time"

	"golang.org/x/text/language"

	"codeberg.org/xmppcore/xmppcore/transport"
)

// Default timing values, per spec.md §5.
const (
	DefaultIQTimeout        = -1 // wait forever
	DefaultSMTick           = 10 * time.Second
	DefaultSMAckSilence     = 20 * time.Second
	DefaultSMDropSilence    = 60 * time.Second
	DefaultSMResumeBudget   = 30 * time.Second
	DefaultSMResumeTries    = 3
	DefaultSMReconnectWait  = 30 * time.Second
	DefaultSMReconnectTries = 3
)

// Config holds the options used to construct a Session. The zero value is
// not usable; use NewConfig to obtain one with the spec's documented
// defaults filled in.
type Config struct {
	// Hostname is the domain the session authenticates against (the
	// domainpart of the bound JID before resource binding).
	Hostname string

	// Username and Password are the SASL credentials. Leaving Password
	// empty means no SASL exchange is attempted (an anonymous or
	// already-authenticated stream).
	Username, Password string

	// ServerOverride bypasses DNS SRV lookup entirely and dials this
	// address directly, per spec.md §6. Its IP is dialed literally; its
	// Port is used if non-zero, otherwise Port below applies.
	ServerOverride *net.TCPAddr

	// Port is the literal port dialed when ServerOverride is set but its
	// own Port is zero. Defaults to 5222.
	Port uint16

	// TLS enables opportunistic STARTTLS. Defaults to true.
	TLS bool

	// VerifyTLS is consulted during the STARTTLS upgrade. A nil value is
	// equivalent to transport.DefaultVerify, which is intentionally
	// insecure; see transport.VerifyFunc.
	VerifyTLS transport.VerifyFunc

	// Lang is the default xml:lang advertised on outgoing streams.
	Lang language.Tag

	// IQTimeout bounds synchronous IQ requests. DefaultIQTimeout (-1)
	// means wait forever.
	IQTimeout time.Duration

	// Stream Management timing knobs; see spec.md §5 for the defaults
	// each one takes when zero.
	SMTick           time.Duration
	SMAckSilence     time.Duration
	SMDropSilence    time.Duration
	SMResumeBudget   time.Duration
	SMResumeTries    int
	SMReconnectWait  time.Duration
	SMReconnectTries int
}

// NewConfig returns a Config for hostname with the spec's documented
// defaults filled in: TLS enabled, a 5222 default port, and the Stream
// Management timings from spec.md §5.
func NewConfig(hostname, username, password string) Config {
	return Config{
		Hostname:         hostname,
		Username:         username,
		Password:         password,
		Port:             5222,
		TLS:              true,
		Lang:             language.English,
		IQTimeout:        DefaultIQTimeout,
		SMTick:           DefaultSMTick,
		SMAckSilence:     DefaultSMAckSilence,
		SMDropSilence:    DefaultSMDropSilence,
		SMResumeBudget:   DefaultSMResumeBudget,
		SMResumeTries:    DefaultSMResumeTries,
		SMReconnectWait:  DefaultSMReconnectWait,
		SMReconnectTries: DefaultSMReconnectTries,
	}
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 5222
	}
	if c.SMTick == 0 {
		c.SMTick = DefaultSMTick
	}
	if c.SMAckSilence == 0 {
		c.SMAckSilence = DefaultSMAckSilence
	}
	if c.SMDropSilence == 0 {
		c.SMDropSilence = DefaultSMDropSilence
	}
	if c.SMResumeBudget == 0 {
		c.SMResumeBudget = DefaultSMResumeBudget
	}
	if c.SMResumeTries == 0 {
		c.SMResumeTries = DefaultSMResumeTries
	}
	if c.SMReconnectWait == 0 {
		c.SMReconnectWait = DefaultSMReconnectWait
	}
	if c.SMReconnectTries == 0 {
		c.SMReconnectTries = DefaultSMReconnectTries
	}
	return c
}
