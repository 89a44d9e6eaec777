// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"bytes"
	"context"
	"testing"
	"time"

	"codeberg.org/xmppcore/xmppcore/internal/attr"
	"codeberg.org/xmppcore/xmppcore/stanza"
)

func newTestSession() *Session {
	s := New(Config{Hostname: "example.net"})
	s.transport = nil
	s.writer = newWriter(&bytes.Buffer{}, nil)
	s.idGen = attr.NewIQIDGenerator()
	s.connected = true
	return s
}

func TestIQRequestRejectsNonRequestType(t *testing.T) {
	s := newTestSession()
	_, err := s.IQRequest(context.Background(), stanza.IQ{Type: stanza.ResultIQ}, nil, 0)
	if err == nil {
		t.Fatal("expected an error for a non-request IQ type")
	}
}

func TestIQRequestRejectsWhenNotConnected(t *testing.T) {
	s := newTestSession()
	s.connected = false
	_, err := s.IQRequest(context.Background(), stanza.IQ{Type: stanza.GetIQ}, nil, 0)
	if err == nil {
		t.Fatal("expected an error when not connected")
	}
}

func TestIQRequestFulfilledByOnIQResponse(t *testing.T) {
	s := newTestSession()

	done := make(chan *stanza.IQ, 1)
	go func() {
		resp, err := s.IQRequest(context.Background(), stanza.IQ{Type: stanza.GetIQ}, nil, time.Second)
		if err != nil {
			t.Errorf("IQRequest: %v", err)
		}
		done <- resp
	}()

	var id string
	for {
		s.iqMu.Lock()
		for k := range s.waiters {
			id = k
		}
		s.iqMu.Unlock()
		if id != "" {
			break
		}
		time.Sleep(time.Millisecond)
	}

	s.onIQResponse(&stanza.IQ{ID: id, Type: stanza.ResultIQ})

	select {
	case resp := <-done:
		if resp == nil || resp.ID != id {
			t.Errorf("unexpected response: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for IQRequest to return")
	}
}

func TestIQRequestTimesOut(t *testing.T) {
	s := newTestSession()
	_, err := s.IQRequest(context.Background(), stanza.IQ{Type: stanza.GetIQ}, nil, time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	s.iqMu.Lock()
	n := len(s.waiters)
	s.iqMu.Unlock()
	if n != 0 {
		t.Errorf("expected the waiter to be cleaned up, got %d remaining", n)
	}
}

func TestIQRequestAsyncInvokesCallback(t *testing.T) {
	s := newTestSession()
	done := make(chan *stanza.IQ, 1)
	id, err := s.IQRequestAsync(stanza.IQ{Type: stanza.SetIQ}, nil, func(iq *stanza.IQ) {
		done <- iq
	})
	if err != nil {
		t.Fatalf("IQRequestAsync: %v", err)
	}

	s.onIQResponse(&stanza.IQ{ID: id, Type: stanza.ResultIQ})

	select {
	case resp := <-done:
		if resp.ID != id {
			t.Errorf("got id %q, want %q", resp.ID, id)
		}
	case <-time.After(time.Second):
		t.Fatal("callback was never invoked")
	}
}

func TestIQResponseRejectsRequestType(t *testing.T) {
	s := newTestSession()
	err := s.IQResponse(stanza.IQ{Type: stanza.GetIQ, ID: "1"}, nil)
	if err == nil {
		t.Fatal("expected an error for a request IQ type")
	}
}

func TestCancelWaitersUnblocksPendingRequests(t *testing.T) {
	s := newTestSession()
	done := make(chan error, 1)
	go func() {
		_, err := s.IQRequest(context.Background(), stanza.IQ{Type: stanza.GetIQ}, nil, 0)
		done <- err
	}()

	for {
		s.iqMu.Lock()
		n := len(s.waiters)
		s.iqMu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	s.cancelWaiters()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after cancelWaiters")
		}
	case <-time.After(time.Second):
		t.Fatal("IQRequest did not unblock after cancelWaiters")
	}
}

func TestPingPayloadIsRecognizedByIsPingPayload(t *testing.T) {
	if !isPingPayload(PingPayload()) {
		t.Error("PingPayload() was not recognized by isPingPayload")
	}
	if isPingPayload(nil) {
		t.Error("nil payload incorrectly recognized as a ping")
	}
}
