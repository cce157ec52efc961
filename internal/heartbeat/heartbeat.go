// Package heartbeat implements the application-level ping/pong liveness probe.
//
// While running, the Monitor sends a ping every Interval. The first
// unanswered ping arms a deadline of Timeout; a pong echoing the timestamp
// of the most recent ping clears it. If the deadline passes the Monitor
// stops itself and reports the timeout exactly once.
package heartbeat

import (
	"log/slog"
	"time"

	"github.com/rickgao/adw-relay/internal/clock"
)

// Default probe timings.
const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 30 * time.Second
)

// Config holds the probe timings.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultConfig returns the default probe timings.
func DefaultConfig() Config {
	return Config{
		Interval: DefaultInterval,
		Timeout:  DefaultTimeout,
	}
}

// Record is the probe bookkeeping exposed to the owner.
type Record struct {
	LastPingSentAt     time.Time
	LastPongReceivedAt time.Time
	Outstanding        bool
	PendingTimestamp   int64 // epoch-ms of the most recent ping
}

// Handlers are invoked from inside the owner's Serializer.
type Handlers struct {
	// SendPing writes a ping carrying timestamp to the transport.
	SendPing func(timestamp int64) error

	// Timeout reports a liveness failure.
	Timeout func()
}

// Monitor drives the ping schedule. All methods must be called with the
// owner's lock held; timer callbacks re-enter through the Serializer.
type Monitor struct {
	cfg    Config
	clock  clock.Clock
	run    clock.Serializer
	h      Handlers
	logger *slog.Logger

	gen         clock.Epoch
	deadlineGen clock.Epoch
	running     bool
	record      Record

	tick     clock.Timer
	deadline clock.Timer
}

// NewMonitor creates a stopped Monitor.
func NewMonitor(cfg Config, clk clock.Clock, run clock.Serializer, h Handlers, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:    cfg,
		clock:  clk,
		run:    run,
		h:      h,
		logger: logger,
	}
}

// Start resets the record and schedules the first ping one Interval from now.
func (m *Monitor) Start() {
	m.Stop()

	tok := m.gen.Bump()
	m.running = true
	m.record = Record{}
	m.scheduleTick(tok)
}

// Stop cancels the pending ping and deadline. Callbacks already in flight
// become no-ops.
func (m *Monitor) Stop() {
	m.gen.Bump()
	m.deadlineGen.Bump()
	m.running = false
	m.record.Outstanding = false

	if m.tick != nil {
		m.tick.Stop()
		m.tick = nil
	}
	if m.deadline != nil {
		m.deadline.Stop()
		m.deadline = nil
	}
}

// Running reports whether the probe is active.
func (m *Monitor) Running() bool {
	return m.running
}

// Record returns a copy of the probe bookkeeping.
func (m *Monitor) Record() Record {
	return m.record
}

// HandlePong matches a pong against the most recent ping and returns the
// round-trip time. Pongs for older pings, duplicates and pongs received
// while stopped are ignored.
func (m *Monitor) HandlePong(timestamp int64, now time.Time) (time.Duration, bool) {
	if !m.running || !m.record.Outstanding || timestamp != m.record.PendingTimestamp {
		m.logger.Debug("ignoring unmatched pong",
			"timestamp", timestamp,
			"pending", m.record.PendingTimestamp,
		)
		return 0, false
	}

	rtt := now.Sub(m.record.LastPingSentAt)
	if rtt < 0 {
		rtt = 0
	}

	m.record.Outstanding = false
	m.record.LastPongReceivedAt = now
	m.deadlineGen.Bump()
	if m.deadline != nil {
		m.deadline.Stop()
		m.deadline = nil
	}

	return rtt, true
}

func (m *Monitor) scheduleTick(tok uint64) {
	m.tick = m.clock.AfterFunc(m.cfg.Interval, func() {
		m.run(func() {
			if !m.running || !m.gen.Valid(tok) {
				return
			}
			m.ping(tok)
		})
	})
}

func (m *Monitor) ping(tok uint64) {
	now := m.clock.Now()
	ts := now.UnixMilli()

	m.record.LastPingSentAt = now
	m.record.PendingTimestamp = ts
	if !m.record.Outstanding {
		m.record.Outstanding = true
		m.armDeadline(tok)
	}

	if err := m.h.SendPing(ts); err != nil {
		// A ping that cannot be written still counts as outstanding.
		m.logger.Debug("failed to send ping", "error", err)
	}

	if m.running && m.gen.Valid(tok) {
		m.scheduleTick(tok)
	}
}

func (m *Monitor) armDeadline(tok uint64) {
	dtok := m.deadlineGen.Bump()
	m.deadline = m.clock.AfterFunc(m.cfg.Timeout, func() {
		m.run(func() {
			if !m.running || !m.gen.Valid(tok) || !m.deadlineGen.Valid(dtok) || !m.record.Outstanding {
				return
			}
			m.expire()
		})
	})
}

func (m *Monitor) expire() {
	m.logger.Warn("heartbeat timeout",
		"last_ping", m.record.LastPingSentAt,
		"last_pong", m.record.LastPongReceivedAt,
		"timeout", m.cfg.Timeout,
	)
	m.Stop()
	if m.h.Timeout != nil {
		m.h.Timeout()
	}
}
