package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// DefaultJitter spreads delays by ±20%.
const DefaultJitter = 0.2

// Source yields uniform floats in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Backoff computes exponential retry delays.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the multiplicative spread applied to Base, as a fraction.
	Jitter float64
}

// Base returns min(Initial × Multiplier^(attempt-1), Max) for a 1-based attempt.
func (b Backoff) Base(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Initial) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Delay returns Base(attempt) scaled by a factor drawn uniformly from
// [1-Jitter, 1+Jitter). A nil src uses the global generator.
func (b Backoff) Delay(attempt int, src Source) time.Duration {
	base := b.Base(attempt)
	if b.Jitter <= 0 || base <= 0 {
		return base
	}
	u := rand.Float64()
	if src != nil {
		u = src.Float64()
	}
	factor := 1 + b.Jitter*(2*u-1)
	return time.Duration(float64(base) * factor)
}
