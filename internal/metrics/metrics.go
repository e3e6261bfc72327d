// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a caracas process.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// RTT histogram range, in microseconds.
const (
	rttMin     = 1
	rttMax     = int64(60 * time.Second / time.Microsecond)
	rttSigFigs = 3
)

// Collector tracks runtime metrics for the request session, the reply
// peer and the power watcher.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	sessionsActive    atomic.Int64
	sessionsTotal     atomic.Int64
	messagesIn        atomic.Int64
	messagesOut       atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	handshakeFailures atomic.Int64
	modeChanges       atomic.Int64
	restricted        atomic.Bool
	errorsTotal       atomic.Int64

	rttMu  sync.Mutex
	rtt    *hdrhistogram.Histogram
	rttSum time.Duration

	mu           sync.RWMutex
	startTime    time.Time
	state        string
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{
		startTime: time.Now(),
		rtt:       hdrhistogram.New(rttMin, rttMax, rttSigFigs),
	}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ActiveSessions returns the current number of open sessions.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// HandshakeFailed records a rejected handshake.
func (c *Collector) HandshakeFailed() {
	if c == nil {
		return
	}
	c.handshakeFailures.Add(1)
}

// HandshakeFailures returns the number of rejected handshakes.
func (c *Collector) HandshakeFailures() int64 {
	if c == nil {
		return 0
	}
	return c.handshakeFailures.Load()
}

// SetState records the request session's current state name.
func (c *Collector) SetState(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.state = name
	c.mu.Unlock()
}

// State returns the last recorded session state.
func (c *Collector) State() string {
	if c == nil {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ── Message metrics ──────────────────────────────────────────────────

// MessageSent records one outgoing message of n bytes.
func (c *Collector) MessageSent(n int) {
	if c == nil {
		return
	}
	c.messagesOut.Add(1)
	c.bytesOut.Add(int64(n))
}

// MessageReceived records one incoming message of n bytes.
func (c *Collector) MessageReceived(n int) {
	if c == nil {
		return
	}
	c.messagesIn.Add(1)
	c.bytesIn.Add(int64(n))
}

// MessagesOut returns the number of messages sent.
func (c *Collector) MessagesOut() int64 {
	if c == nil {
		return 0
	}
	return c.messagesOut.Load()
}

// MessagesIn returns the number of messages received.
func (c *Collector) MessagesIn() int64 {
	if c == nil {
		return 0
	}
	return c.messagesIn.Load()
}

// TotalBytesIn returns total payload bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total payload bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// RecordRTT adds one request/reply round trip to the latency
// histogram.  Values outside 1µs..60s are clamped.
func (c *Collector) RecordRTT(d time.Duration) {
	if c == nil {
		return
	}
	us := d.Microseconds()
	if us < rttMin {
		us = rttMin
	}
	if us > rttMax {
		us = rttMax
	}
	c.rttMu.Lock()
	c.rtt.RecordValue(us) //nolint:errcheck // clamped into range above
	c.rttSum += d
	c.rttMu.Unlock()
}

// RTTQuantile returns the round-trip time at percentile q (0-100).
func (c *Collector) RTTQuantile(q float64) time.Duration {
	if c == nil {
		return 0
	}
	c.rttMu.Lock()
	defer c.rttMu.Unlock()
	return time.Duration(c.rtt.ValueAtQuantile(q)) * time.Microsecond
}

// RTTCount returns the number of recorded round trips.
func (c *Collector) RTTCount() int64 {
	if c == nil {
		return 0
	}
	c.rttMu.Lock()
	defer c.rttMu.Unlock()
	return c.rtt.TotalCount()
}

// ── Power metrics ────────────────────────────────────────────────────

// ModeApplied records a mode change pushed to the controller.
func (c *Collector) ModeApplied(restricted bool) {
	if c == nil {
		return
	}
	c.modeChanges.Add(1)
	c.restricted.Store(restricted)
}

// ModeChanges returns the number of applied mode changes.
func (c *Collector) ModeChanges() int64 {
	if c == nil {
		return 0
	}
	return c.modeChanges.Load()
}

// Restricted reports the last applied mode.
func (c *Collector) Restricted() bool {
	if c == nil {
		return false
	}
	return c.restricted.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	State             string `json:"state,omitempty"`
	SessionsActive    int64  `json:"sessions_active"`
	SessionsTotal     int64  `json:"sessions_total"`
	MessagesIn        int64  `json:"messages_in"`
	MessagesOut       int64  `json:"messages_out"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	HandshakeFailures int64  `json:"handshake_failures"`
	RTTCount          int64  `json:"rtt_count"`
	RTTP50            string `json:"rtt_p50,omitempty"`
	RTTP99            string `json:"rtt_p99,omitempty"`
	ModeChanges       int64  `json:"mode_changes"`
	Restricted        bool   `json:"restricted"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}

	s := Snapshot{
		SessionsActive:    c.sessionsActive.Load(),
		SessionsTotal:     c.sessionsTotal.Load(),
		MessagesIn:        c.messagesIn.Load(),
		MessagesOut:       c.messagesOut.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		HandshakeFailures: c.handshakeFailures.Load(),
		ModeChanges:       c.modeChanges.Load(),
		Restricted:        c.restricted.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if s.RTTCount = c.RTTCount(); s.RTTCount > 0 {
		s.RTTP50 = c.RTTQuantile(50).String()
		s.RTTP99 = c.RTTQuantile(99).String()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	s.Uptime = time.Since(c.startTime).Truncate(time.Second).String()
	s.State = c.state
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
