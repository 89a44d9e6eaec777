// Copyright 2014 The Contributors.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package jid_test

import (
	"testing"

	"codeberg.org/xmppcore/xmppcore/jid"
)

var parseTests = [...]struct {
	in           string
	localpart    string
	domainpart   string
	resourcepart string
	err          bool
}{
	0: {in: "mercutio@example.com", localpart: "mercutio", domainpart: "example.com"},
	1: {in: "mercutio@example.com/orchard", localpart: "mercutio", domainpart: "example.com", resourcepart: "orchard"},
	2: {in: "example.com", domainpart: "example.com"},
	3: {in: "example.com/orchard", domainpart: "example.com", resourcepart: "orchard"},
	4: {in: "example.com.", domainpart: "example.com"},
	5: {in: "@example.com", err: true},
	6: {in: "mercutio@example.com/", err: true},
	7: {in: "", err: true},
}

func TestParse(t *testing.T) {
	for i, tc := range parseTests {
		j, err := jid.Parse(tc.in)
		if tc.err {
			if err == nil {
				t.Errorf("%d: expected error parsing %q", i, tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%d: unexpected error parsing %q: %v", i, tc.in, err)
		}
		if j.Localpart() != tc.localpart {
			t.Errorf("%d: localpart = %q, want %q", i, j.Localpart(), tc.localpart)
		}
		if j.Domainpart() != tc.domainpart {
			t.Errorf("%d: domainpart = %q, want %q", i, j.Domainpart(), tc.domainpart)
		}
		if j.Resourcepart() != tc.resourcepart {
			t.Errorf("%d: resourcepart = %q, want %q", i, j.Resourcepart(), tc.resourcepart)
		}
	}
}

func TestEqualFoldsLocalAndDomainButNotResource(t *testing.T) {
	a := jid.MustParse("Mercutio@Example.com/Orchard")
	b := jid.MustParse("mercutio@example.com/Orchard")
	if !a.Equal(b) {
		t.Errorf("expected %v to equal %v (local/domain case-insensitive)", a, b)
	}

	c := jid.MustParse("mercutio@example.com/orchard")
	if a.Equal(c) {
		t.Errorf("expected %v to NOT equal %v (resourcepart is case-sensitive)", a, c)
	}
}

func TestBareStripsResource(t *testing.T) {
	full := jid.MustParse("mercutio@example.com/orchard")
	bare := full.Bare()
	if bare.Resourcepart() != "" {
		t.Errorf("Bare() left a resourcepart: %q", bare.Resourcepart())
	}
	if bare.Localpart() != full.Localpart() || bare.Domainpart() != full.Domainpart() {
		t.Errorf("Bare() changed localpart/domainpart")
	}
}

func TestStringRoundTrip(t *testing.T) {
	for i, tc := range parseTests {
		if tc.err {
			continue
		}
		j, err := jid.Parse(tc.in)
		if err != nil {
			t.Fatalf("%d: %v", i, err)
		}
		j2, err := jid.Parse(j.String())
		if err != nil {
			t.Fatalf("%d: reparsing %q: %v", i, j.String(), err)
		}
		if !j.Equal(j2) {
			t.Errorf("%d: round trip mismatch: %v != %v", i, j, j2)
		}
	}
}
