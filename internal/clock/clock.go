package clock

import "time"

// Clock is the source of time and delays.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from firing if it has not fired yet.
	// It reports whether the call stopped the timer.
	Stop() bool
}

// Serializer runs fn with exclusive access to the state of the component
// that owns it. Timer callbacks go through a Serializer before touching
// that state.
type Serializer func(fn func())

type realClock struct{}

// New returns a Clock backed by the time package.
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Epoch is a generation counter used to invalidate scheduled callbacks.
// It is not safe for concurrent use; guard it with the owner's lock.
type Epoch struct {
	n uint64
}

// Bump invalidates all outstanding tokens and returns the new one.
func (e *Epoch) Bump() uint64 {
	e.n++
	return e.n
}

// Current returns the token for the current generation.
func (e *Epoch) Current() uint64 {
	return e.n
}

// Valid reports whether tok belongs to the current generation.
func (e *Epoch) Valid(tok uint64) bool {
	return tok == e.n
}
