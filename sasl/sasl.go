// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

// Mechanism drives one SASL exchange. Start produces the (possibly empty)
// initial response sent with <auth/>. Step consumes one server challenge
// and produces the next client response; done reports whether the client
// side of the exchange considers itself finished (the server's <success/>
// still has to be verified separately by the caller when the mechanism
// carries a final server signature, e.g. SCRAM).
type Mechanism interface {
	Name() string
	Start() (resp []byte, err error)
	Step(challenge []byte) (resp []byte, done bool, err error)
}

// Preference lists the mechanism names this implementation supports, in
// the strict precedence order required for selection: stronger mechanisms
// are preferred over weaker ones.
var Preference = []string{"SCRAM-SHA-1", "DIGEST-MD5", "PLAIN"}

// Select picks the strongest mechanism in Preference order that both the
// server advertised (offered) and the caller can construct (available). It
// returns the zero value and false if no match exists.
func Select(offered []string, available map[string]Mechanism) (Mechanism, bool) {
	for _, name := range Preference {
		m, ok := available[name]
		if !ok {
			continue
		}
		for _, o := range offered {
			if o == name {
				return m, true
			}
		}
	}
	return nil, false
}
