package poller

import (
	"math"
	"math/rand"
	"time"

	defaults "github.com/xtxerr/plclogger/config"
)

// Backoff computes the delay before the next read after consecutive
// failures. Delays grow by Factor from Min, are capped at Max, and are
// spread by +/- Jitter as a fraction of the delay.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64

	// Rand returns a value in [0, 1). Nil uses math/rand.
	Rand func() float64
}

// DefaultBackoff returns the configured default bounds.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    defaults.DefaultBackoffMin,
		Max:    defaults.DefaultBackoffMax,
		Factor: defaults.DefaultBackoffFactor,
		Jitter: defaults.DefaultBackoffJitter,
	}
}

// Delay returns the wait after the given failure count (1 = first failure).
// The result always lies in [Min, Max].
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	d := float64(b.Min) * math.Pow(factor, float64(attempt-1))
	if d > float64(b.Max) || math.IsInf(d, 1) {
		d = float64(b.Max)
	}

	if b.Jitter > 0 {
		r := b.Rand
		if r == nil {
			r = rand.Float64
		}
		d *= 1 + b.Jitter*(2*r()-1)
	}

	return min(max(time.Duration(math.Round(d)), b.Min), b.Max)
}
