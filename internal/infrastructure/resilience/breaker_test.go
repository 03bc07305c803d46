package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDownstream = errors.New("downstream failed")

func newTestBreaker(threshold uint32, cooldown time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(BreakerSettings{
		Name:             "test",
		FailureThreshold: threshold,
		Cooldown:         cooldown,
	}, zerolog.Nop(), nil)
}

func fail(t *testing.T, b *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		done, err := b.Allow()
		require.NoError(t, err)
		done(errDownstream)
	}
}

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	b := newTestBreaker(3, time.Minute)

	fail(t, b, 2)
	assert.False(t, b.IsOpen())
	assert.Equal(t, uint32(2), b.ConsecutiveFailures())

	fail(t, b, 1)
	assert.True(t, b.IsOpen())
	assert.Equal(t, StateOpen, b.State())
	assert.GreaterOrEqual(t, b.ConsecutiveFailures(), uint32(3))

	_, err := b.Allow()
	require.Error(t, err)
	assert.ErrorIs(t, err, domainErrors.ErrCircuitOpen)
	assert.Equal(t, domainErrors.KindCircuitOpen, domainErrors.KindOf(err))
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	b := newTestBreaker(3, time.Minute)
	fail(t, b, 2)

	done, err := b.Allow()
	require.NoError(t, err)
	done(nil)

	assert.Equal(t, uint32(0), b.ConsecutiveFailures())
	fail(t, b, 2)
	assert.False(t, b.IsOpen())
}

func TestCircuitBreaker_HalfOpenTrialCloses(t *testing.T) {
	b := newTestBreaker(1, 20*time.Millisecond)
	fail(t, b, 1)
	require.True(t, b.IsOpen())

	time.Sleep(40 * time.Millisecond)
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateHalfOpen, b.State())

	done, err := b.Allow()
	require.NoError(t, err)

	// only one trial call at a time
	_, err = b.Allow()
	assert.ErrorIs(t, err, domainErrors.ErrCircuitOpen)

	done(nil)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(0), b.ConsecutiveFailures())
}

func TestCircuitBreaker_HalfOpenTrialReopens(t *testing.T) {
	b := newTestBreaker(1, 20*time.Millisecond)
	fail(t, b, 1)

	time.Sleep(40 * time.Millisecond)
	fail(t, b, 1)

	assert.True(t, b.IsOpen())
}

func TestCircuitBreaker_Snapshot(t *testing.T) {
	b := newTestBreaker(2, time.Minute)
	snap := b.Snapshot()
	assert.Equal(t, "closed", snap.State)
	assert.Nil(t, snap.LastFailureAt)

	fail(t, b, 2)
	snap = b.Snapshot()
	assert.Equal(t, "test", snap.Name)
	assert.Equal(t, "open", snap.State)
	assert.Equal(t, uint32(2), snap.ConsecutiveFailures)
	assert.Equal(t, uint32(2), snap.FailureThreshold)
	assert.Equal(t, "1m0s", snap.Cooldown)
	assert.NotNil(t, snap.LastFailureAt)
}

func TestCircuitBreaker_StaleOutcomeKeepsOpenCount(t *testing.T) {
	b := newTestBreaker(1, time.Minute)

	doneA, err := b.Allow()
	require.NoError(t, err)
	doneB, err := b.Allow()
	require.NoError(t, err)

	doneA(errDownstream)
	require.True(t, b.IsOpen())

	// B was admitted before the trip; its success must not reset the count.
	doneB(nil)
	assert.True(t, b.IsOpen())
	assert.GreaterOrEqual(t, b.ConsecutiveFailures(), uint32(1))

	snap := b.Snapshot()
	assert.Equal(t, "open", snap.State)
	assert.GreaterOrEqual(t, snap.ConsecutiveFailures, snap.FailureThreshold)
}

func TestCircuitBreaker_CancellationIsNotCounted(t *testing.T) {
	b := newTestBreaker(2, time.Minute)

	for i := 0; i < 3; i++ {
		done, err := b.Allow()
		require.NoError(t, err)
		done(context.Canceled)
	}

	assert.False(t, b.IsOpen())
	assert.Zero(t, b.ConsecutiveFailures())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
