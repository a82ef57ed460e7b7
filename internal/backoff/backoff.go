// Package backoff provides the retry delay policy shared by the sync
// engine and the realtime channel.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy computes exponential backoff delays with jitter.
// The zero value is not usable; start from Default and adjust.
type Policy struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor.
	Multiplier float64

	// JitterFactor is the maximum jitter as a fraction of the delay
	// (0 disables jitter). Jitter avoids thundering-herd reconnects
	// when many clients lose the same server.
	JitterFactor float64
}

// Default returns the policy used throughout inklet: 1s initial,
// doubling, 30s ceiling, ±30% jitter.
func Default() Policy {
	return Policy{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.JitterFactor > 0 {
		jitter := delay * p.JitterFactor * (2*rand.Float64() - 1)
		delay += jitter
		if delay < 0 {
			delay = float64(p.InitialDelay)
		}
	}

	return time.Duration(delay)
}
