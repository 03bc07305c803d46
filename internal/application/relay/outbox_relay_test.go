package relay_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cassiomorais/leadflow/internal/application/relay"
	"github.com/cassiomorais/leadflow/internal/domain/outbox"
	"github.com/cassiomorais/leadflow/internal/testutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu        sync.Mutex
	fail      map[string]error
	published []string
	dlq       []string

	// onPublish runs before each Publish, outside the lock.
	onPublish func()
}

func (p *fakePublisher) Publish(ctx context.Context, e *outbox.Entry) error {
	if p.onPublish != nil {
		p.onPublish()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[e.EventType]; err != nil {
		return err
	}
	p.published = append(p.published, e.EventType)
	return nil
}

func (p *fakePublisher) PublishToDLQ(ctx context.Context, e *outbox.Entry, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dlq = append(p.dlq, e.EventType+": "+reason)
	return nil
}

type relayFixture struct {
	store *testutil.Store
	repo  *testutil.MockOutboxRepository
	tx    *testutil.MockTransactionManager
	pub   *fakePublisher
	relay *relay.OutboxRelay
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	store := testutil.NewStore()
	repo := testutil.NewMockOutboxRepository(store)
	tx := testutil.NewMockTransactionManager(store)
	pub := &fakePublisher{fail: map[string]error{}}
	return &relayFixture{
		store: store,
		repo:  repo,
		tx:    tx,
		pub:   pub,
		relay: relay.NewOutboxRelay(repo, pub, tx, 10, time.Minute, zerolog.Nop(), nil),
	}
}

func (f *relayFixture) insert(t *testing.T, eventType string) *outbox.Entry {
	t.Helper()
	e := outbox.NewEntry(outbox.AggregatePayment, uuid.New(), eventType, map[string]any{"k": "v"})
	require.NoError(t, f.repo.Insert(context.Background(), e))
	return e
}

func statuses(entries []*outbox.Entry) map[string]outbox.Status {
	out := make(map[string]outbox.Status, len(entries))
	for _, e := range entries {
		out[e.EventType] = e.Status
	}
	return out
}

func TestOutboxRelay_PublishesPending(t *testing.T) {
	f := newRelayFixture(t)
	f.insert(t, outbox.EventPaymentProcessing)
	f.insert(t, outbox.EventEstimateAccepted)

	n, err := f.relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{outbox.EventPaymentProcessing, outbox.EventEstimateAccepted}, f.pub.published)

	for _, e := range f.store.OutboxEntries() {
		assert.Equal(t, outbox.StatusPublished, e.Status)
		assert.NotNil(t, e.PublishedAt)
	}

	// nothing left to do
	n, err = f.relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxRelay_FailedPublishStaysPending(t *testing.T) {
	f := newRelayFixture(t)
	f.insert(t, outbox.EventPaymentProcessing)
	f.insert(t, outbox.EventPaymentCompleted)
	f.pub.fail[outbox.EventPaymentCompleted] = errors.New("stream unavailable")

	n, err := f.relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := statuses(f.store.OutboxEntries())
	assert.Equal(t, outbox.StatusPublished, got[outbox.EventPaymentProcessing])
	assert.Equal(t, outbox.StatusPending, got[outbox.EventPaymentCompleted])
	for _, e := range f.store.OutboxEntries() {
		if e.EventType == outbox.EventPaymentCompleted {
			assert.Equal(t, 1, e.RetryCount)
		}
	}
	assert.Empty(t, f.pub.dlq)
}

func TestOutboxRelay_ExhaustedEntryGoesToDLQ(t *testing.T) {
	f := newRelayFixture(t)
	e := f.insert(t, outbox.EventPaymentFailed)
	f.pub.fail[outbox.EventPaymentFailed] = errors.New("stream unavailable")

	for i := 0; i < e.MaxRetries; i++ {
		_, err := f.relay.RunOnce(context.Background())
		require.NoError(t, err)
	}

	entries := f.store.OutboxEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, outbox.StatusFailed, entries[0].Status)
	assert.Equal(t, e.MaxRetries, entries[0].RetryCount)
	require.Len(t, f.pub.dlq, 1)
	assert.Equal(t, outbox.EventPaymentFailed+": stream unavailable", f.pub.dlq[0])

	// a failed entry is no longer picked up
	_, err := f.relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.pub.dlq, 1)
}

func TestOutboxRelay_BookkeepingFailureRollsBack(t *testing.T) {
	f := newRelayFixture(t)
	f.insert(t, outbox.EventPaymentProcessing)
	f.tx.FailNext(errors.New("connection reset"))

	_, err := f.relay.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, outbox.StatusPending, f.store.OutboxEntries()[0].Status)

	// still claimed by the pass that failed
	n, err := f.relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	// once the lease runs out the entry is published again
	f.repo.Now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	n, err = f.relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.pub.published, 2)
}

func TestOutboxRelay_ConcurrentRelaysClaimDisjointPages(t *testing.T) {
	f := newRelayFixture(t)
	for i := 0; i < 4; i++ {
		f.insert(t, outbox.EventPaymentProcessing)
	}

	// a second relay claims while the first is still publishing
	second := relay.NewOutboxRelay(f.repo, f.pub, f.tx, 10, time.Minute, zerolog.Nop(), nil)
	var secondRun int
	f.pub.onPublish = func() {
		f.pub.onPublish = nil
		n, err := second.RunOnce(context.Background())
		require.NoError(t, err)
		secondRun = n
	}

	n, err := f.relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Zero(t, secondRun, "entries claimed by the first relay must not be handed out again")
	assert.Len(t, f.pub.published, 4)
}

func TestOutboxRelay_FailedPublishReleasesClaim(t *testing.T) {
	f := newRelayFixture(t)
	f.insert(t, outbox.EventPaymentCompleted)
	f.pub.fail[outbox.EventPaymentCompleted] = errors.New("stream unavailable")

	_, err := f.relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, f.store.OutboxEntries()[0].ClaimedUntil)

	// retried on the next pass without waiting for the lease
	delete(f.pub.fail, outbox.EventPaymentCompleted)
	n, err := f.relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
