// Package reconnect computes reconnection delays and bounds retry episodes.
package reconnect

import (
	"math/rand"
	"time"
)

// Default backoff parameters.
const (
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 20
	DefaultJitter      = 0.25
)

// Policy is exponential backoff with symmetric jitter.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int     // <= 0 means unlimited
	Jitter      float64 // fraction of the delay, applied as ±Jitter

	// Rand returns a uniform value in [0, 1). Nil uses math/rand.
	Rand func() float64
}

// DefaultPolicy returns 1s doubling to 30s, ±25%, 20 attempts.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
		Jitter:      DefaultJitter,
	}
}

// Delay returns min(BaseDelay * 2^(n-1), MaxDelay) for 1-indexed attempt n.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}

	d := p.BaseDelay
	for i := 1; i < n; i++ {
		if d >= p.MaxDelay {
			break
		}
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Jittered returns Delay(n) scaled by a uniform multiplier in
// [1-Jitter, 1+Jitter].
func (p Policy) Jittered(n int) time.Duration {
	d := p.Delay(n)
	if p.Jitter <= 0 {
		return d
	}

	jitter := p.Jitter
	if jitter > 1 {
		jitter = 1
	}

	r := rand.Float64
	if p.Rand != nil {
		r = p.Rand
	}
	mult := 1 - jitter + 2*jitter*r()
	return time.Duration(float64(d) * mult)
}

// Exhausted reports whether attempt n exceeds the ceiling.
func (p Policy) Exhausted(n int) bool {
	return p.MaxAttempts > 0 && n > p.MaxAttempts
}
