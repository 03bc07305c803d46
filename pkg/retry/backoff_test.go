package retry

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_BaseIsMonotonicAndCapped(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := b.Base(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, b.Max, "attempt %d", attempt)
		prev = d
	}

	assert.Equal(t, 100*time.Millisecond, b.Base(1))
	assert.Equal(t, 200*time.Millisecond, b.Base(2))
	assert.Equal(t, 800*time.Millisecond, b.Base(4))
	assert.Equal(t, 2*time.Second, b.Base(6))
}

func TestBackoff_BaseClampsBadInput(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: time.Minute, Multiplier: 0.5}
	assert.Equal(t, time.Second, b.Base(0))
	assert.Equal(t, time.Second, b.Base(3), "multiplier below 1 is treated as 1")

	huge := Backoff{Initial: time.Second, Multiplier: 10}
	assert.Equal(t, time.Duration(1<<63-1), huge.Base(100))
}

func TestBackoff_DelayJitterBounds(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2, Jitter: DefaultJitter}
	src := rand.New(rand.NewPCG(42, 7))

	for attempt := 1; attempt <= 6; attempt++ {
		base := b.Base(attempt)
		for i := 0; i < 200; i++ {
			d := b.Delay(attempt, src)
			assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.8))
			assert.Less(t, d, time.Duration(float64(base)*1.2)+1)
		}
	}
}

func TestBackoff_DelayIsDeterministicForSeed(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2, Jitter: DefaultJitter}

	a := rand.New(rand.NewPCG(1, 2))
	c := rand.New(rand.NewPCG(1, 2))
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, b.Delay(attempt, a), b.Delay(attempt, c))
	}
}

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

func TestBackoff_DelayExtremes(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2, Jitter: 0.2}

	assert.Equal(t, 800*time.Millisecond, b.Delay(1, fixedSource(0)))
	assert.Equal(t, time.Second, b.Delay(1, fixedSource(0.5)))

	noJitter := Backoff{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2}
	assert.Equal(t, 4*time.Second, noJitter.Delay(3, fixedSource(0.99)))
}
