package rabbitmq

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy controls reconnection backoff.
type RetryPolicy struct {
	// MaxAttempts bounds reconnection attempts. 0 means unbounded.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// Multiplier is the exponential growth factor per attempt.
	Multiplier float64
	// Jitter perturbs the delay by a uniform ±25% factor when enabled.
	Jitter bool
}

// DefaultRetryPolicy mirrors the broker defaults used in production.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  0,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Delay computes the backoff delay for the given zero-based attempt. The
// result is always within [0, MaxDelay].
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}

	d := base
	if p.Jitter {
		// Uniform in base·[0.75, 1.25].
		d = base * (0.75 + rand.Float64()*0.5)
	}

	if d < 0 {
		return 0
	}
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Exhausted reports whether the policy permits no further attempts after
// the given number of completed attempts.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
