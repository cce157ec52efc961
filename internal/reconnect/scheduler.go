package reconnect

import (
	"log/slog"
	"time"

	"github.com/rickgao/adw-relay/internal/clock"
)

// Attempt describes a scheduled reconnection.
type Attempt struct {
	Number         int
	ScheduledDelay time.Duration
	StartedAt      time.Time
}

// Scheduler counts attempts within one failure episode and arms the timer
// for the next one. Methods must be called with the owner's lock held.
type Scheduler struct {
	policy Policy
	clock  clock.Clock
	run    clock.Serializer
	logger *slog.Logger

	epoch   clock.Epoch
	attempt int
	current *Attempt
	timer   clock.Timer
}

// NewScheduler creates a Scheduler with no attempts recorded.
func NewScheduler(policy Policy, clk clock.Clock, run clock.Serializer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		policy: policy,
		clock:  clk,
		run:    run,
		logger: logger,
	}
}

// Schedule arms the next attempt and calls fn through the Serializer when
// its delay elapses. It returns false, without scheduling, once the
// attempt ceiling is exceeded.
func (s *Scheduler) Schedule(fn func()) (Attempt, bool) {
	s.cancelTimer()

	n := s.attempt + 1
	if s.policy.Exhausted(n) {
		s.current = nil
		return Attempt{}, false
	}
	s.attempt = n

	a := Attempt{
		Number:         n,
		ScheduledDelay: s.policy.Jittered(n),
		StartedAt:      s.clock.Now(),
	}
	s.current = &a

	tok := s.epoch.Current()
	s.timer = s.clock.AfterFunc(a.ScheduledDelay, func() {
		s.run(func() {
			if !s.epoch.Valid(tok) {
				return
			}
			s.timer = nil
			fn()
		})
	})

	s.logger.Info("reconnect scheduled",
		"attempt", a.Number,
		"delay", a.ScheduledDelay,
		"max_attempts", s.policy.MaxAttempts,
	)

	return a, true
}

// Cancel drops the pending timer but keeps the attempt count.
func (s *Scheduler) Cancel() {
	s.cancelTimer()
}

// Reset cancels the pending timer and starts a new episode.
func (s *Scheduler) Reset() {
	s.cancelTimer()
	s.attempt = 0
	s.current = nil
}

// Attempts returns the attempt number of the current episode (0 if none).
func (s *Scheduler) Attempts() int {
	return s.attempt
}

// Current returns the most recently scheduled attempt.
func (s *Scheduler) Current() (Attempt, bool) {
	if s.current == nil {
		return Attempt{}, false
	}
	return *s.current, true
}

// Pending reports whether a timer is armed.
func (s *Scheduler) Pending() bool {
	return s.timer != nil
}

// Policy returns the backoff policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

func (s *Scheduler) cancelTimer() {
	s.epoch.Bump()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
