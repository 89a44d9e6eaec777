// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package attr

import (
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
)

// IDLen is the standard length of stanza identifiers in bytes.
const IDLen = 16

// IQIDGenerator produces IQ identifiers that are unique within a single
// stream: a per-session prefix (so ids from a previous, resumed, or
// reconnected stream never alias) followed by a monotonically increasing
// counter. Unlike RandomID it never needs to touch the entropy pool on the
// hot path.
type IQIDGenerator struct {
	prefix string
	n      uint64
}

// NewIQIDGenerator creates a generator seeded with a fresh random prefix.
func NewIQIDGenerator() *IQIDGenerator {
	return &IQIDGenerator{prefix: randomID(8, rand.Reader)}
}

// Next returns the next id in the sequence. It is safe for concurrent use.
func (g *IQIDGenerator) Next() string {
	n := atomic.AddUint64(&g.n, 1)
	return g.prefix + strconv.FormatUint(n, 10)
}

// RandomID generates a new random identifier of length IDLen. If the OS's
// entropy pool isn't initialized, or we can't generate random numbers for some
// other reason, panic.
func RandomID() string {
	return randomID(IDLen, rand.Reader)
}

// RandomLen is like RandomID but the length is configurable.
func RandomLen(n int) string {
	return randomID(n, rand.Reader)
}

func randomID(n int, r io.Reader) string {
	b := make([]byte, (n/2)+(n&1))
	switch n, err := r.Read(b); {
	case err != nil:
		panic(err)
	case n != len(b):
		panic("Could not read enough randomness")
	}

	return fmt.Sprintf("%x", b)[:n]
}
