package task

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy computes the next-run instant for a failed attempt using
// capped exponential backoff with additive, non-negative jitter:
//
//	delay = min(cap, base * 2^(attempts-1)) + uniform(0, jitter)
type RetryPolicy struct {
	BaseSeconds   float64
	MaxSeconds    float64
	JitterSeconds float64
}

// DefaultRetryPolicy matches the reference defaults.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		BaseSeconds:   1.0,
		MaxSeconds:    60.0,
		JitterSeconds: 0.25,
	}
}

// Delay returns the backoff duration for the given (post-increment) attempt
// count. attempts must be >= 1; values below 1 are treated as 1.
func (p *RetryPolicy) Delay(attempts int) time.Duration {
	k := attempts
	if k < 1 {
		k = 1
	}
	backoff := p.BaseSeconds * math.Pow(2, float64(k-1))
	if backoff > p.MaxSeconds {
		backoff = p.MaxSeconds
	}
	if p.JitterSeconds > 0 {
		backoff += rand.Float64() * p.JitterSeconds
	}
	return time.Duration(backoff * float64(time.Second))
}

// NextRunAt returns the absolute UTC instant at which a task that has just
// failed for the k-th time should next be attempted.
func (p *RetryPolicy) NextRunAt(attempts int) time.Time {
	return time.Now().UTC().Add(p.Delay(attempts))
}
