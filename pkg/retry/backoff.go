package retry

import (
	"fmt"
	"math"
	"time"
)

// BackoffPolicy computes exponential retry delays with jitter. The delay
// before retrying attempt n (1-based) is
//
//	min(MaxDelay, BaseDelay * 2^(n-1)) * jitter
//
// where jitter is drawn uniformly from [0.5, 1.5). Jitter is applied after
// clamping, so average spacing stays monotone up to MaxDelay.
type BackoffPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Validate ensures the policy is usable, otherwise returns an error.
func (p BackoffPolicy) Validate() error {
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be greater than 0")
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max delay must be at least the base delay")
	}
	return nil
}

// Delay returns the backoff before retrying the given failed attempt
// (1-based). jitter must be in [0, 1); it is typically rand.Float64,
// injectable for deterministic tests.
func (p BackoffPolicy) Delay(attempt int, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoff := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}

	factor := 0.5 + jitter
	return time.Duration(backoff * factor)
}
