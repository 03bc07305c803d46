package outbox

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntry(t *testing.T) {
	estimateID := uuid.New()
	payload := map[string]any{
		"estimate_id": estimateID.String(),
		"payment_id":  uuid.New().String(),
	}

	entry := NewEntry(AggregateEstimate, estimateID, EventEstimateAccepted, payload)

	require.NotNil(t, entry)
	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.Equal(t, "estimate", entry.AggregateType)
	assert.Equal(t, estimateID, entry.AggregateID)
	assert.Equal(t, "estimate.accepted", entry.EventType)
	assert.Equal(t, payload, entry.Payload)
	assert.Equal(t, StatusPending, entry.Status)
	assert.Equal(t, 0, entry.RetryCount)
	assert.Equal(t, 5, entry.MaxRetries)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.Nil(t, entry.PublishedAt)
}

func TestEntry_UniqueIDs(t *testing.T) {
	paymentID := uuid.New()
	entry1 := NewEntry(AggregatePayment, paymentID, EventPaymentCompleted, nil)
	entry2 := NewEntry(AggregatePayment, paymentID, EventPaymentCompleted, nil)

	assert.NotEqual(t, entry1.ID, entry2.ID)
	assert.Equal(t, entry1.AggregateID, entry2.AggregateID)
}

func TestEntry_Exhausted(t *testing.T) {
	entry := NewEntry(AggregatePayment, uuid.New(), EventPaymentFailed, nil)
	assert.False(t, entry.Exhausted())

	entry.RetryCount = 4
	assert.True(t, entry.Exhausted())
}
