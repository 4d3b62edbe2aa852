package gateway

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy is the single, configurable retry/backoff policy owned by the
// gateway; call sites never roll their own loops.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	JitterFrac  float64
	MaxDelay    time.Duration
}

func DefaultRetryPolicy(maxAttempts int, factor float64, base time.Duration, maxDelay time.Duration) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if factor < 1 {
		factor = 1.5
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		Factor:      factor,
		JitterFrac:  0.25,
		MaxDelay:    maxDelay,
	}
}

// Backoff computes the sleep before the next attempt. A server hint
// (Retry-After) takes precedence over the computed exponential delay.
func (p RetryPolicy) Backoff(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		if p.MaxDelay > 0 && hint > p.MaxDelay {
			return p.MaxDelay
		}
		return hint
	}

	delay := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.JitterFrac > 0 {
		spread := delay * p.JitterFrac
		delay = delay - spread + rand.Float64()*2*spread
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
