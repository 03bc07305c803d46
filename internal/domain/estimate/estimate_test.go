package estimate_test

import (
	"testing"
	"time"

	"github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/cassiomorais/leadflow/internal/domain/estimate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCheckPayable(t *testing.T) {
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		est     estimate.Estimate
		wantErr error
	}{
		{"sent", estimate.Estimate{Status: estimate.StatusSent}, nil},
		{"accepted", estimate.Estimate{Status: estimate.StatusAccepted, ExpiresAt: &future}, nil},
		{"draft", estimate.Estimate{Status: estimate.StatusDraft}, errors.ErrEstimateNotPayable},
		{"declined", estimate.Estimate{Status: estimate.StatusDeclined}, errors.ErrEstimateNotPayable},
		{"expired", estimate.Estimate{Status: estimate.StatusSent, ExpiresAt: &past}, errors.ErrEstimateExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.est.CheckPayable(now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, errors.KindValidation, errors.KindOf(err))
		})
	}
}

func TestDepositAmount(t *testing.T) {
	e := estimate.Estimate{Total: 10000, DepositPercentage: 25}
	amount, err := e.DepositAmount()
	require.NoError(t, err)
	assert.Equal(t, int64(2500), amount)

	e = estimate.Estimate{Total: 999, DepositPercentage: 33.3}
	amount, err = e.DepositAmount()
	require.NoError(t, err)
	assert.Equal(t, int64(333), amount)

	e = estimate.Estimate{Total: 10000}
	_, err = e.DepositAmount()
	assert.Error(t, err)
}

func TestRemaining(t *testing.T) {
	e := estimate.Estimate{Total: 10000}

	rest, err := e.Remaining(2500)
	require.NoError(t, err)
	assert.Equal(t, int64(7500), rest)

	_, err = e.Remaining(10000)
	assert.ErrorIs(t, err, errors.ErrNothingToPay)
}

func TestAccept(t *testing.T) {
	e := estimate.Estimate{Status: estimate.StatusSent}
	assert.True(t, e.Accept(now))
	assert.Equal(t, estimate.StatusAccepted, e.Status)
	require.NotNil(t, e.AcceptedAt)

	assert.False(t, e.Accept(now.Add(time.Hour)), "second accept is a no-op")
	assert.Equal(t, now, *e.AcceptedAt)

	draft := estimate.Estimate{Status: estimate.StatusDraft}
	assert.False(t, draft.Accept(now))
	assert.Equal(t, estimate.StatusDraft, draft.Status)
}
