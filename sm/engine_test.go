// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sm

import (
	"context"
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Tick:           time.Hour, // keep the background tick from firing during tests
		AckSilence:     20 * time.Second,
		DropSilence:    60 * time.Second,
		ResumeBudget:   30 * time.Second,
		ResumeTries:    3,
		ReconnectWait:  30 * time.Second,
		ReconnectTries: 3,
	}
}

type fakeHooks struct {
	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeHooks) send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeHooks) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestEngine(f *fakeHooks) *Engine {
	e := NewEngine(testConfig(), Hooks{
		SendRaw: f.send,
		Resume: func(ctx context.Context, h uint32, previd string) (ResumeResult, error) {
			return ResumeResult{}, nil
		},
		Reconnect: func(ctx context.Context) error { return nil },
	})
	return e
}

func TestEnableThenRecordSentIncrementsOutboundSeq(t *testing.T) {
	f := &fakeHooks{}
	e := newTestEngine(f)
	defer e.Stop()

	if err := e.Enable(true, 60); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	e.RecordSent([]byte("<message/>"))
	e.RecordSent([]byte("<message/>"))

	e.mu.Lock()
	got := e.outboundSeq
	e.mu.Unlock()
	if got != 2 {
		t.Errorf("outbound_seq = %d, want 2", got)
	}
}

func TestHandleAckTrimsCache(t *testing.T) {
	f := &fakeHooks{}
	e := newTestEngine(f)
	defer e.Stop()

	e.Enable(true, 60)
	e.RecordSent([]byte("<message id='1'/>"))
	e.RecordSent([]byte("<message id='2'/>"))
	e.RecordSent([]byte("<message id='3'/>"))

	e.HandleAck(2)

	e.mu.Lock()
	cacheLen := len(e.cache)
	ack := e.lastServerAck
	e.mu.Unlock()
	if ack != 2 {
		t.Errorf("last_server_ack = %d, want 2", ack)
	}
	if cacheLen != 1 {
		t.Errorf("cache len = %d, want 1 (invariant: len == outbound_seq - last_server_ack)", cacheLen)
	}
}

func TestHandleResumedReplaysSuffix(t *testing.T) {
	f := &fakeHooks{}
	e := newTestEngine(f)
	defer e.Stop()

	e.Enable(true, 60)
	e.RecordSent([]byte("m1"))
	e.RecordSent([]byte("m2"))
	e.RecordSent([]byte("m3"))
	e.HandleAck(1) // server has seen m1

	before := f.sentCount()
	e.HandleResumed(1) // resumed from the same point, replay m2 and m3
	after := f.sentCount()

	if after-before != 2 {
		t.Errorf("resend count = %d, want 2", after-before)
	}
}

func TestHandleEnabledWithPendingResumeHTrimsBeforeReplay(t *testing.T) {
	f := &fakeHooks{}
	e := newTestEngine(f)
	defer e.Stop()

	e.Enable(true, 60)
	e.RecordSent([]byte("m1"))
	e.RecordSent([]byte("m2"))
	e.RecordSent([]byte("m3"))

	h := uint32(1)
	e.HandleFailed(&h, true, nil) // sets pendingResumeH = 1

	before := f.sentCount()
	e.HandleEnabled(true, "abc123", 60)
	after := f.sentCount()

	// last_server_ack was 0, pendingResumeH=1, so one entry (m1) is
	// trimmed and the remaining two (m2, m3) are replayed.
	if after-before != 2 {
		t.Errorf("resend count = %d, want 2", after-before)
	}
	e.mu.Lock()
	cacheLen := len(e.cache)
	e.mu.Unlock()
	if cacheLen != 2 {
		t.Errorf("cache len = %d, want 2", cacheLen)
	}
}

func TestHandleFailedNonItemNotFoundOnlyReportsError(t *testing.T) {
	f := &fakeHooks{}
	var gotErr error
	e := NewEngine(testConfig(), Hooks{
		SendRaw: f.send,
		OnError: func(err error) { gotErr = err },
	})
	defer e.Stop()

	resumedCalled := false
	e.hooks.OnResumed = func() { resumedCalled = true }

	e.HandleFailed(nil, false, context.DeadlineExceeded)

	if gotErr == nil {
		t.Error("expected OnError to fire for a non-item-not-found failure")
	}
	if resumedCalled {
		t.Error("OnResumed must not fire for a non-item-not-found failure")
	}
}
