// Package backoff implements capped exponential backoff for reconnect loops.
package backoff

import (
	"math/rand"
	"time"
)

// Policy computes the delay before a given retry attempt. Attempts are
// numbered from zero. The delay doubles each attempt, is capped at Max, and
// gets up to Jitter of random spread so a fleet of clients does not
// reconnect in lockstep.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

// Default matches the reconnect cadence used by the node state machine:
// 1s, 2s, 4s, ... capped at 30s with 20% jitter.
func Default() Policy {
	return Policy{
		Initial: time.Second,
		Max:     30 * time.Second,
		Jitter:  0.2,
	}
}

// Delay returns the wait duration before the given attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}

	d := initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			d = p.Max
			break
		}
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}

	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
		if d < 0 {
			d = initial
		}
	}
	return d
}
