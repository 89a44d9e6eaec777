// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

import "testing"

func TestDigestMD5RoundTrip(t *testing.T) {
	m := NewDigestMD5("user", "pencil", "example.org")
	resp, err := m.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if resp != nil {
		t.Errorf("DIGEST-MD5 should not send an initial response, got %q", resp)
	}

	challenge := []byte(`realm="example.org",nonce="abcdef0123456789",qop="auth",charset=utf-8,algorithm=md5-sess`)
	clientResp, done, err := m.Step(challenge)
	if err != nil {
		t.Fatalf("step1: %v", err)
	}
	if done {
		t.Error("mechanism reported done after the first challenge")
	}
	attrs := parseDigestChallenge(string(clientResp))
	if attrs["username"] != "user" {
		t.Errorf("username = %q, want %q", attrs["username"], "user")
	}
	if attrs["response"] == "" {
		t.Error("missing response attribute")
	}

	d := m.(*digestMD5)
	finalChallenge := []byte("rspauth=" + d.expected)
	_, done, err = m.Step(finalChallenge)
	if err != nil {
		t.Fatalf("step2: %v", err)
	}
	if !done {
		t.Error("mechanism did not report done after verifying rspauth")
	}
}

func TestDigestMD5RejectsBadRspauth(t *testing.T) {
	m := NewDigestMD5("user", "pencil", "example.org")
	if _, err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, _, err := m.Step([]byte(`realm="example.org",nonce="n",qop="auth"`)); err != nil {
		t.Fatalf("step1: %v", err)
	}
	if _, _, err := m.Step([]byte("rspauth=deadbeef")); err == nil {
		t.Error("expected an error for a mismatched rspauth")
	}
}

func TestSelectPrecedence(t *testing.T) {
	available := map[string]Mechanism{
		"PLAIN":       NewPlain("", "user", "pass"),
		"DIGEST-MD5":  NewDigestMD5("user", "pass", "example.org"),
		"SCRAM-SHA-1": NewScramSHA1("user", "pass", nil),
	}
	m, ok := Select([]string{"PLAIN", "DIGEST-MD5"}, available)
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Name() != "DIGEST-MD5" {
		t.Errorf("selected %q, want DIGEST-MD5 over PLAIN", m.Name())
	}

	m, ok = Select([]string{"PLAIN", "DIGEST-MD5", "SCRAM-SHA-1"}, available)
	if !ok || m.Name() != "SCRAM-SHA-1" {
		t.Errorf("expected SCRAM-SHA-1 to win, got %v, ok=%v", m, ok)
	}

	_, ok = Select([]string{"GSSAPI"}, available)
	if ok {
		t.Error("expected no match for an unsupported mechanism")
	}
}
