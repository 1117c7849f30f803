package connection

import (
	"math"
	"math/rand"
	"time"
)

// Backoff spaces reconnect attempts. A Multiplier of 1 (the default) polls
// at a fixed Initial interval.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

// DefaultBackoff polls every two seconds.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 2 * time.Second, Multiplier: 1}
}

// Next returns the delay before attempt N (1-based).
func (b Backoff) Next(attempt int, rng *rand.Rand) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	if attempt <= 1 {
		return b.jitter(float64(b.Initial), rng)
	}
	mult := b.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(b.Initial) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return b.jitter(delay, rng)
}

func (b Backoff) jitter(delay float64, rng *rand.Rand) time.Duration {
	if b.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}
