// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

import (
	"crypto/tls"

	msasl "mellium.im/sasl"
)

// melliumMechanism adapts a mellium.im/sasl client negotiator to the local
// Mechanism interface.
type melliumMechanism struct {
	name   string
	client *msasl.Negotiator
}

func (m *melliumMechanism) Name() string { return m.name }

func (m *melliumMechanism) Start() ([]byte, error) {
	_, resp, err := m.client.Step(nil)
	return resp, err
}

func (m *melliumMechanism) Step(challenge []byte) (resp []byte, done bool, err error) {
	more, resp, err := m.client.Step(challenge)
	return resp, !more, err
}

// NewPlain adapts mellium.im/sasl's PLAIN mechanism.
func NewPlain(identity, username, password string) Mechanism {
	return &melliumMechanism{
		name: msasl.Plain.Name,
		client: msasl.NewClient(msasl.Plain,
			msasl.Authz(identity),
			msasl.Credentials(username, password),
		),
	}
}

// NewScramSHA1 adapts mellium.im/sasl's SCRAM-SHA-1 mechanism. connState, if
// non-nil, supplies TLS channel-binding data for the *-PLUS variants; it is
// accepted for forward compatibility but the PLUS variant itself is not
// offered since channel binding is out of scope here.
func NewScramSHA1(username, password string, connState *tls.ConnectionState) Mechanism {
	opts := []msasl.Option{
		msasl.Credentials(username, password),
	}
	if connState != nil {
		opts = append(opts, msasl.ConnState(*connState))
	}
	return &melliumMechanism{
		name:   msasl.ScramSha1.Name,
		client: msasl.NewClient(msasl.ScramSha1, opts...),
	}
}
