package clock

import (
	"testing"
	"time"
)

func TestFake_AdvanceFiresInOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	var fired []int
	c.AfterFunc(3*time.Second, func() { fired = append(fired, 3) })
	c.AfterFunc(1*time.Second, func() { fired = append(fired, 1) })
	c.AfterFunc(2*time.Second, func() { fired = append(fired, 2) })

	c.Advance(2 * time.Second)
	if len(fired) != 2 || fired[0] != 1 || fired[1] != 2 {
		t.Fatalf("fired = %v, want [1 2]", fired)
	}

	c.Advance(time.Second)
	if len(fired) != 3 || fired[2] != 3 {
		t.Fatalf("fired = %v, want [1 2 3]", fired)
	}
}

func TestFake_Stop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Error("first Stop should report true")
	}
	if timer.Stop() {
		t.Error("second Stop should report false")
	}

	c.Advance(5 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFake_CallbackSchedulesDuringAdvance(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(5 * time.Second)
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
	if got := c.Now(); !got.Equal(time.Unix(5, 0)) {
		t.Errorf("Now() = %v, want %v", got, time.Unix(5, 0))
	}
}

func TestFake_Pending(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	c.AfterFunc(4*time.Second, func() {})
	c.AfterFunc(time.Second, func() {})

	pending := c.Pending()
	if len(pending) != 2 || pending[0] != time.Second || pending[1] != 4*time.Second {
		t.Errorf("Pending() = %v, want [1s 4s]", pending)
	}
}

func TestEpoch(t *testing.T) {
	var e Epoch

	tok := e.Current()
	if !e.Valid(tok) {
		t.Fatal("current token should be valid")
	}

	next := e.Bump()
	if e.Valid(tok) {
		t.Error("old token should be invalid after Bump")
	}
	if !e.Valid(next) {
		t.Error("bumped token should be valid")
	}
}
