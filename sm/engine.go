// Copyright 2022 The Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is one node of the drop-detection/resumption state machine:
//
//	Connected ──tick 60s silence──► Resuming
//	Resuming  ──<resumed>─► Connected
//	Resuming  ──tick 30s × 3 fails──► Reconnecting
//	Reconnecting ─bind+enable success─► Connected
//	Reconnecting ──tick 30s × 3 fails──► Failed (terminal)
type State int

const (
	Connected State = iota
	Resuming
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Resuming:
		return "Resuming"
	case Reconnecting:
		return "Reconnecting"
	case Failed:
		return "Failed"
	default:
		return "Connected"
	}
}

// Config holds the Engine's timing knobs; see spec.md §5 for the default
// each one takes when the Session didn't override it.
type Config struct {
	Tick           time.Duration
	AckSilence     time.Duration
	DropSilence    time.Duration
	ResumeBudget   time.Duration
	ResumeTries    int
	ReconnectWait  time.Duration
	ReconnectTries int
}

// ResumeResult is what a resumption attempt over a fresh stream produced.
type ResumeResult struct {
	Resumed      bool
	AckH         uint32
	FailedH      *uint32
	ItemNotFound bool
}

// Hooks are the callbacks the owning session supplies so that Engine never
// needs to know about XML, transports, or the rest of the session: it only
// ever reaches the outside world through these functions.
type Hooks struct {
	// SendRaw writes pre-serialized bytes directly to the transport,
	// bypassing the replay cache (used for <r/>, <enable/> and replayed
	// stanzas).
	SendRaw func(b []byte) error
	// Resume dials a fresh stream (without binding), replays SASL, and
	// sends <resume h='h' previd='previd'/>, returning what the server
	// answered.
	Resume func(ctx context.Context, h uint32, previd string) (ResumeResult, error)
	// Reconnect performs a full bring-up (bind included) over a fresh
	// stream; the engine re-sends <enable/> itself afterward.
	Reconnect func(ctx context.Context) error
	// OnEnabled is invoked after a successful enable/re-enable.
	OnEnabled func()
	// OnResumed is invoked after a successful resumption.
	OnResumed func()
	// OnError reports a non-fatal protocol problem (a malformed SM
	// frame, for instance).
	OnError func(error)
	// Disconnect marks the session terminally disconnected; called when
	// the full reconnect budget is exhausted, when a <failed/> carries a
	// condition other than item-not-found, and when a drop is reported
	// before Stream Management was enabled.
	Disconnect func(error)
}

// Engine owns the Stream Management state described in spec.md §3 and
// drives its periodic tick.
type Engine struct {
	cfg   Config
	hooks Hooks

	mu                sync.Mutex
	enabled           bool
	resumptionEnabled bool
	resumptionID      string
	maxResumeSeconds  int

	outboundSeq       uint32
	inboundSeq        uint32
	lastServerAck     uint32
	lastServerAckTime time.Time

	cache [][]byte

	pendingResumeH *uint32

	state             State
	resuming          bool
	resumeStart       time.Time
	resumeAttempts    int
	reconnectStart    time.Time
	reconnectAttempts int

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewEngine constructs an Engine and starts its periodic tick goroutine.
// The engine does nothing until Enable is called.
func NewEngine(cfg Config, hooks Hooks) *Engine {
	e := &Engine{
		cfg:    cfg,
		hooks:  hooks,
		stopCh: make(chan struct{}),
	}
	go e.tickLoop()
	return e
}

// Stop halts the engine's tick goroutine. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

func (e *Engine) tickLoop() {
	t := time.NewTicker(e.cfg.Tick)
	defer t.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-t.C:
			e.onTick()
		}
	}
}

// Enable sends <enable/> and, once the server's prior enabling state has
// been recorded via HandleEnabled, begins the normal ack/drop-detection
// cycle. The replay carried by a preceding failed-resume is reconciled by
// HandleEnabled, not here.
func (e *Engine) Enable(withResumption bool, maxSeconds int) error {
	e.mu.Lock()
	e.enabled = true
	e.resumptionEnabled = withResumption
	e.maxResumeSeconds = maxSeconds
	if e.lastServerAckTime.IsZero() {
		e.lastServerAckTime = time.Now()
	}
	e.mu.Unlock()

	resume := "false"
	if withResumption {
		resume = "true"
	}
	max := ""
	if maxSeconds > 0 {
		max = fmt.Sprintf(` max='%d'`, maxSeconds)
	}
	frame := fmt.Sprintf(`<enable xmlns='urn:xmpp:sm:3' resume='%s'%s/>`, resume, max)
	return e.hooks.SendRaw([]byte(frame))
}

// RecordSent appends b to the replay cache and increments outbound_seq. It
// must be called by the Writer under the same lock that performed the
// write, so that it happens atomically with the send (spec invariant 2).
func (e *Engine) RecordSent(b []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.enabled {
		return
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	e.cache = append(e.cache, cp)
	e.outboundSeq++
}

// RecordReceived increments inbound_seq for one SM-eligible inbound
// stanza (iq/message/presence/<a>).
func (e *Engine) RecordReceived() {
	e.mu.Lock()
	e.inboundSeq++
	e.mu.Unlock()
}

// InboundSeq returns the current inbound_seq, used to answer <r/> with
// <a h='inbound_seq'/>.
func (e *Engine) InboundSeq() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inboundSeq
}

// HandleEnabled processes a server <enabled .../> reply: it reconciles any
// pending-resume trim, replays whatever remains in the cache, and resets
// the resumption bookkeeping.
func (e *Engine) HandleEnabled(resumptionEnabled bool, resumptionID string, maxResumeSeconds int) {
	e.mu.Lock()
	var replay [][]byte
	if e.pendingResumeH != nil {
		trim := *e.pendingResumeH - e.lastServerAck
		replay = e.trimLocked(trim)
		e.pendingResumeH = nil
	} else {
		replay = e.snapshotLocked()
	}
	e.resumptionEnabled = resumptionEnabled
	e.resumptionID = resumptionID
	e.maxResumeSeconds = maxResumeSeconds
	e.enabled = true
	e.lastServerAckTime = time.Now()
	e.resuming = false
	e.resumeAttempts = 0
	e.reconnectAttempts = 0
	e.state = Connected
	e.mu.Unlock()

	e.resend(replay)
	if e.hooks.OnEnabled != nil {
		e.hooks.OnEnabled()
	}
}

// HandleAck processes an inbound <a h='K'/>: it trims the replay cache by
// K - last_server_ack entries and records the new high-water mark.
func (e *Engine) HandleAck(h uint32) {
	e.mu.Lock()
	if h > e.lastServerAck {
		e.trimLocked(h - e.lastServerAck)
	}
	e.lastServerAck = h
	e.lastServerAckTime = time.Now()
	e.mu.Unlock()
}

// HandleResumed processes a server <resumed h='K'/>: it trims the cache,
// replays the remainder in order, and returns to Connected.
func (e *Engine) HandleResumed(h uint32) {
	e.mu.Lock()
	var replay [][]byte
	if h > e.lastServerAck {
		replay = e.trimLocked(h - e.lastServerAck)
	} else {
		replay = e.snapshotLocked()
	}
	e.lastServerAck = h
	e.lastServerAckTime = time.Now()
	e.resuming = false
	e.resumeAttempts = 0
	e.reconnectAttempts = 0
	e.state = Connected
	e.mu.Unlock()

	e.resend(replay)
	if e.hooks.OnResumed != nil {
		e.hooks.OnResumed()
	}
}

// HandleFailed processes a server <failed .../>. itemNotFound tells it
// whether the failure's child condition was item-not-found, the only
// condition under which a full reconnect-and-reenable is attempted; any
// other condition surfaces an Error (never OnResumed), moves the engine to
// Failed and calls the Disconnect hook, per spec.md §9's resolved Open
// Question (the source's buggy StreamResumed-on-any-failure is not
// reproduced here).
func (e *Engine) HandleFailed(h *uint32, itemNotFound bool, cause error) {
	if !itemNotFound {
		if e.hooks.OnError != nil {
			e.hooks.OnError(cause)
		}
		e.mu.Lock()
		e.state = Failed
		e.mu.Unlock()
		if e.hooks.Disconnect != nil {
			e.hooks.Disconnect(cause)
		}
		return
	}
	e.mu.Lock()
	e.pendingResumeH = h
	e.state = Reconnecting
	e.reconnectStart = time.Now()
	e.reconnectAttempts = 0
	e.mu.Unlock()
	go e.doReconnect()
}

func (e *Engine) snapshotLocked() [][]byte {
	out := make([][]byte, len(e.cache))
	copy(out, e.cache)
	return out
}

// trimLocked removes n entries from the front of the cache and returns a
// snapshot of what remains, for the caller to resend outside the lock.
func (e *Engine) trimLocked(n uint32) [][]byte {
	if int(n) > len(e.cache) {
		n = uint32(len(e.cache))
	}
	e.cache = e.cache[n:]
	return e.snapshotLocked()
}

func (e *Engine) resend(frames [][]byte) {
	for _, b := range frames {
		// Replays go straight to the transport: they are already in the
		// cache, so RecordSent must not run again for them.
		_ = e.hooks.SendRaw(b)
	}
}

func (e *Engine) onTick() {
	e.mu.Lock()
	enabled := e.enabled
	outboundSeq := e.outboundSeq
	silence := time.Since(e.lastServerAckTime)
	state := e.state
	resumeStart := e.resumeStart
	resumeAttempts := e.resumeAttempts
	reconnectStart := e.reconnectStart
	reconnectAttempts := e.reconnectAttempts
	e.mu.Unlock()

	if !enabled {
		return
	}

	if outboundSeq > 0 && outboundSeq%3 == 0 || silence > e.cfg.AckSilence {
		_ = e.hooks.SendRaw([]byte(`<r xmlns='urn:xmpp:sm:3'/>`))
	}

	switch state {
	case Connected:
		if silence > e.cfg.DropSilence {
			e.mu.Lock()
			e.state = Resuming
			e.resumeStart = time.Now()
			e.resumeAttempts = 0
			e.mu.Unlock()
			go e.doResume()
		}
	case Resuming:
		if time.Since(resumeStart) > e.cfg.ResumeBudget {
			if resumeAttempts < e.cfg.ResumeTries {
				e.mu.Lock()
				e.resumeAttempts++
				e.resumeStart = time.Now()
				e.mu.Unlock()
				go e.doResume()
			} else {
				e.mu.Lock()
				e.state = Reconnecting
				e.reconnectStart = time.Now()
				e.reconnectAttempts = 0
				e.mu.Unlock()
				go e.doReconnect()
			}
		}
	case Reconnecting:
		if time.Since(reconnectStart) > e.cfg.ReconnectWait {
			if reconnectAttempts < e.cfg.ReconnectTries {
				e.mu.Lock()
				e.reconnectStart = time.Now()
				e.mu.Unlock()
				go e.doReconnect()
			} else {
				e.mu.Lock()
				e.state = Failed
				e.mu.Unlock()
				if e.hooks.Disconnect != nil {
					e.hooks.Disconnect(fmt.Errorf("sm: reconnect budget exhausted after %d attempts", reconnectAttempts))
				}
			}
		}
	}
}

func (e *Engine) doResume() {
	e.mu.Lock()
	h := e.lastServerAck
	previd := e.resumptionID
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ResumeBudget)
	defer cancel()
	result, err := e.hooks.Resume(ctx, h, previd)
	if err != nil || !result.Resumed {
		if result.ItemNotFound {
			e.HandleFailed(result.FailedH, true, err)
			return
		}
		if err != nil {
			// Transient dial/negotiation failure: leave the state in
			// Resuming so the next tick decides whether to retry resume
			// or fall through to a full reconnect.
			return
		}
		e.HandleFailed(result.FailedH, false, fmt.Errorf("sm: resume failed"))
		return
	}
	e.HandleResumed(result.AckH)
}

func (e *Engine) doReconnect() {
	e.mu.Lock()
	e.reconnectAttempts++
	withResumption := e.resumptionEnabled
	maxSeconds := e.maxResumeSeconds
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ReconnectWait)
	defer cancel()
	if err := e.hooks.Reconnect(ctx); err != nil {
		// Leave the state in Reconnecting; the next tick evaluates
		// reconnectAttempts/reconnectStart against the configured budget
		// and either retries or transitions to Failed.
		return
	}
	if err := e.Enable(withResumption, maxSeconds); err != nil && e.hooks.OnError != nil {
		e.hooks.OnError(err)
	}
}

// NotifyDisconnected is called by the session when the transport fails
// outright (as opposed to a clean stream close). If Stream Management is
// enabled, the drop is handled by the normal tick-driven resumption path;
// RecordSent already preserved every unacknowledged stanza in the cache,
// so nothing further needs to happen here beyond letting the tick notice
// the silence.
func (e *Engine) NotifyDisconnected(cause error) {
	e.mu.Lock()
	enabled := e.enabled
	state := e.state
	e.mu.Unlock()
	if !enabled {
		if e.hooks.Disconnect != nil {
			e.hooks.Disconnect(cause)
		}
		return
	}
	if state == Connected {
		e.mu.Lock()
		e.state = Resuming
		e.resumeStart = time.Now()
		e.resumeAttempts = 0
		e.mu.Unlock()
		go e.doResume()
	}
}
