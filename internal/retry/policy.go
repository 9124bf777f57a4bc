package retry

import (
	"math/rand/v2"
	"time"
)

// Policy bounds the number of attempts and the delay between them.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	// Jitter is the fraction of the delay randomly added or removed, 0.2 means ±20%.
	Jitter float64

	// rand returns a value in [0, 1). Nil means math/rand/v2.
	rand func() float64
}

// DefaultPolicy allows five attempts starting at 30 seconds, capped at one hour.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Base:        30 * time.Second,
		Max:         time.Hour,
		Jitter:      0.2,
	}
}

// WithRand returns a copy of p drawing jitter from fn.
func (p Policy) WithRand(fn func() float64) Policy {
	p.rand = fn
	return p
}

// Exhausted reports whether a record with attempts completed attempts may not
// be retried again.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Backoff returns the delay after the attempt-th failed attempt:
// min(Base·2^(attempt-1), Max) with jitter applied to the capped value.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := p.Base
	for i := 1; i < attempt && d < p.Max; i++ {
		d *= 2
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}

	if p.Jitter <= 0 {
		return d
	}

	r := p.rand
	if r == nil {
		r = rand.Float64
	}
	// factor in [1-Jitter, 1+Jitter)
	factor := 1 + p.Jitter*(2*r()-1)
	return time.Duration(float64(d) * factor)
}
