package client

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines how long the refresher waits after a failed cycle.
// A Factor of 1 or less keeps the wait fixed at Base.
type BackoffConfig struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
	// Jitter spreads each wait over [0.5, 1.5) of its nominal value.
	Jitter bool
}

// DefaultBackoff waits a fixed two minutes between failed cycles.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Base: 2 * time.Minute, Factor: 1}
}

// Delay returns the wait before retry number attempt (1-based).
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base)
	if b.Factor > 1 {
		d *= math.Pow(b.Factor, float64(attempt-1))
	}
	if b.Cap > 0 && d > float64(b.Cap) {
		d = float64(b.Cap)
	}
	if b.Jitter && rng != nil {
		d *= 0.5 + rng.Float64()
	}
	return time.Duration(d)
}
