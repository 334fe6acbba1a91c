package outbound

import (
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the wait before resending after attempt N
// (1-based). The result never drops below floor.
func NextBackoffDelay(cfg BackoffConfig, attempt int, floor time.Duration, rng *rand.Rand) time.Duration {
	delay := float64(cfg.InitialDelay)
	if attempt > 1 && cfg.InitialDelay > 0 {
		mult := cfg.Multiplier
		if mult < 1.0 {
			mult = 1.0
		}
		delay *= math.Pow(mult, float64(attempt-1))
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 1.0
		if rng != nil {
			f = 1.0 + 0.5*rng.Float64()
		}
		delay *= f
	}
	if d := time.Duration(delay); d > floor {
		return d
	}
	return floor
}
