// Package backoff computes jittered exponential retry delays.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Spec holds the immutable parameters of an exponential backoff.
type Spec struct {
	Base     float64
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Default returns base 2, 1s minimum and 5m ceiling.
func Default() Spec {
	return Spec{
		Base:     2.0,
		MinDelay: time.Second,
		MaxDelay: 5 * time.Minute,
	}
}

// Delay returns base^attempt * MinDelay plus a jitter in [0, MinDelay),
// capped at MaxDelay. Negative attempts are treated as zero.
func (s Spec) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	raw := math.Pow(s.Base, float64(attempt)) * float64(s.MinDelay)
	if math.IsNaN(raw) || raw > float64(s.MaxDelay) {
		raw = float64(s.MaxDelay)
	}

	var jitter float64
	if s.MinDelay > 0 {
		//nolint:gosec // jitter only spreads retries, no security requirement
		jitter = float64(rand.Int63n(int64(s.MinDelay)))
	}

	delay := raw + jitter
	if delay > float64(s.MaxDelay) {
		delay = float64(s.MaxDelay)
	}
	if delay < float64(s.MinDelay) {
		delay = float64(s.MinDelay)
	}
	return time.Duration(delay)
}
