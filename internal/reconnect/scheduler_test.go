package reconnect

import (
	"testing"
	"time"

	"github.com/rickgao/adw-relay/internal/clock"
)

func newTestScheduler() (*Scheduler, *clock.Fake) {
	clk := clock.NewFake(time.Unix(0, 0))
	p := DefaultPolicy()
	p.Rand = func() float64 { return 0.5 }
	return NewScheduler(p, clk, func(fn func()) { fn() }, nil), clk
}

func TestScheduler_AttemptsIncrease(t *testing.T) {
	s, clk := newTestScheduler()

	fired := 0
	for want := 1; want <= 3; want++ {
		a, ok := s.Schedule(func() { fired++ })
		if !ok {
			t.Fatalf("Schedule %d refused", want)
		}
		if a.Number != want {
			t.Errorf("attempt = %d, want %d", a.Number, want)
		}
		if a.ScheduledDelay != s.Policy().Delay(want) {
			t.Errorf("delay = %v, want %v", a.ScheduledDelay, s.Policy().Delay(want))
		}
		clk.Advance(a.ScheduledDelay)
	}

	if fired != 3 {
		t.Errorf("fired = %d, want 3", fired)
	}
}

func TestScheduler_Exhausts(t *testing.T) {
	s, clk := newTestScheduler()

	for i := 0; i < DefaultMaxAttempts; i++ {
		a, ok := s.Schedule(func() {})
		if !ok {
			t.Fatalf("Schedule %d refused", i+1)
		}
		clk.Advance(a.ScheduledDelay)
	}

	if _, ok := s.Schedule(func() {}); ok {
		t.Error("Schedule after ceiling should be refused")
	}
	if s.Pending() {
		t.Error("no timer should be armed after exhaustion")
	}
	if len(clk.Pending()) != 0 {
		t.Errorf("clock has %d pending timers, want 0", len(clk.Pending()))
	}
}

func TestScheduler_ResetStartsNewEpisode(t *testing.T) {
	s, clk := newTestScheduler()

	s.Schedule(func() {})
	s.Schedule(func() {})
	s.Reset()

	if s.Attempts() != 0 {
		t.Errorf("Attempts() = %d, want 0", s.Attempts())
	}
	a, _ := s.Schedule(func() {})
	if a.Number != 1 || a.ScheduledDelay != time.Second {
		t.Errorf("after Reset got attempt %d delay %v, want 1 and 1s", a.Number, a.ScheduledDelay)
	}
	clk.Advance(time.Second)
}

func TestScheduler_CancelledTimerHasNoEffect(t *testing.T) {
	s, clk := newTestScheduler()

	fired := false
	s.Schedule(func() { fired = true })
	s.Cancel()

	clk.Advance(time.Minute)
	if fired {
		t.Error("cancelled attempt fired")
	}
	if s.Attempts() != 1 {
		t.Errorf("Cancel should keep the count, got %d", s.Attempts())
	}
}

func TestScheduler_StaleCallbackIgnored(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))

	// A serializer that defers callbacks lets the timer fire after Reset,
	// the way a real timer can race with cancellation.
	var deferred []func()
	run := func(fn func()) { deferred = append(deferred, fn) }
	s := NewScheduler(DefaultPolicy(), clk, run, nil)

	fired := false
	a, _ := s.Schedule(func() { fired = true })
	clk.Advance(a.ScheduledDelay)
	s.Reset()

	for _, fn := range deferred {
		fn()
	}
	if fired {
		t.Error("callback ran after Reset")
	}
}
