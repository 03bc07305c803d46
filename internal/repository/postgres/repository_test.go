package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/cassiomorais/leadflow/internal/domain/estimate"
	"github.com/cassiomorais/leadflow/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDB answers every statement the same way.
type stubDB struct {
	tag     pgconn.CommandTag
	execErr error
	rowErr  error
	execs   []string
	queries []string
	args    [][]any
}

func (s *stubDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	s.queries = append(s.queries, sql)
	s.args = append(s.args, args)
	return nil, s.rowErr
}

func (s *stubDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return stubRow{err: s.rowErr}
}

func (s *stubDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, sql)
	return s.tag, s.execErr
}

type stubRow struct{ err error }

func (r stubRow) Scan(...any) error { return r.err }

func testPayment(t *testing.T) *payment.Payment {
	t.Helper()
	p, err := payment.NewPayment(uuid.New(), payment.TypeDeposit, payment.Amount{ValueCents: 2500, Currency: "usd"}, "key-1")
	require.NoError(t, err)
	return p
}

func TestPaymentRepository_CreateDuplicateKey(t *testing.T) {
	db := &stubDB{execErr: &pgconn.PgError{Code: "23505", ConstraintName: "payments_estimate_idempotency_key"}}
	repo := NewPaymentRepository(db)

	err := repo.Create(context.Background(), testPayment(t))
	assert.ErrorIs(t, err, domainErrors.ErrDuplicateIdempotencyKey)
}

func TestPaymentRepository_UpdateBumpsVersion(t *testing.T) {
	db := &stubDB{tag: pgconn.NewCommandTag("UPDATE 1")}
	repo := NewPaymentRepository(db)
	p := testPayment(t)

	require.NoError(t, repo.Update(context.Background(), p))
	assert.Equal(t, 2, p.Version)
}

func TestPaymentRepository_UpdateStaleVersion(t *testing.T) {
	db := &stubDB{tag: pgconn.NewCommandTag("UPDATE 0")}
	repo := NewPaymentRepository(db)
	p := testPayment(t)

	err := repo.Update(context.Background(), p)
	assert.ErrorIs(t, err, domainErrors.ErrOptimisticLockFailed)
	assert.True(t, IsConflict(err))
	assert.Equal(t, 1, p.Version)
}

func TestPaymentRepository_FindMissReportsNotFound(t *testing.T) {
	repo := NewPaymentRepository(&stubDB{rowErr: pgx.ErrNoRows})

	p, found, err := repo.FindByCheckoutID(context.Background(), "cs_missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, p)

	_, err = repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domainErrors.ErrPaymentNotFound)
}

func TestPaymentRepository_UsesTransactionFromContext(t *testing.T) {
	pool := &stubDB{tag: pgconn.NewCommandTag("INSERT 0 1")}
	db := &fakeDB{}
	m, _ := newTestTxManager(db)
	repo := NewPaymentRepository(pool)

	err := m.WithTransaction(context.Background(), func(ctx context.Context) error {
		return repo.AddEvent(ctx, payment.NewEvent(testPayment(t), "payment.created", nil))
	})

	require.NoError(t, err)
	assert.Empty(t, pool.execs, "writes inside a transaction must not use the pool")
	assert.Len(t, db.Committed(), 1)
}

func TestEstimateRepository_UpdateStaleVersion(t *testing.T) {
	repo := NewEstimateRepository(&stubDB{tag: pgconn.NewCommandTag("UPDATE 0")})
	e := &estimate.Estimate{ID: uuid.New(), Status: estimate.StatusAccepted, Version: 3}

	err := repo.Update(context.Background(), e)
	assert.ErrorIs(t, err, domainErrors.ErrOptimisticLockFailed)
	assert.Equal(t, 3, e.Version)
}

func TestEstimateRepository_GetMissing(t *testing.T) {
	repo := NewEstimateRepository(&stubDB{rowErr: pgx.ErrNoRows})
	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domainErrors.ErrEstimateNotFound)
}

func TestLeadRepository_SetCustomerOnUnknownLead(t *testing.T) {
	repo := NewLeadRepository(&stubDB{tag: pgconn.NewCommandTag("UPDATE 0"), rowErr: pgx.ErrNoRows})
	err := repo.SetExternalCustomerID(context.Background(), uuid.New(), "cus_1")
	assert.ErrorIs(t, err, domainErrors.ErrLeadNotFound)
}

func TestWebhookEventRepository_Cleanup(t *testing.T) {
	repo := NewWebhookEventRepository(&stubDB{tag: pgconn.NewCommandTag("DELETE 4")}, 0)
	n, err := repo.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, 30*24*60*60, int(repo.retention.Seconds()))
}

func TestOutboxRepository_ClaimIsSingleStatement(t *testing.T) {
	db := &stubDB{rowErr: errors.New("connection reset")}
	repo := NewOutboxRepository(db)

	_, err := repo.ClaimPending(context.Background(), 25, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim pending outbox entries")

	// the locked select and the claim must run as one statement, otherwise
	// SKIP LOCKED releases its locks before the rows are marked
	require.Len(t, db.queries, 1)
	q := db.queries[0]
	assert.True(t, strings.HasPrefix(strings.TrimSpace(q), "UPDATE outbox SET claimed_until"))
	assert.Contains(t, q, "FOR UPDATE SKIP LOCKED")
	assert.Contains(t, q, "RETURNING")

	args := db.args[0]
	require.Len(t, args, 4)
	now, until := args[1].(time.Time), args[2].(time.Time)
	assert.Equal(t, time.Minute, until.Sub(now))
	assert.Equal(t, 25, args[3])
}

func TestOutboxRepository_MarkingDropsClaim(t *testing.T) {
	db := &stubDB{tag: pgconn.NewCommandTag("UPDATE 1")}
	repo := NewOutboxRepository(db)

	require.NoError(t, repo.MarkPublished(context.Background(), uuid.New()))
	require.NoError(t, repo.MarkFailed(context.Background(), uuid.New()))
	require.Len(t, db.execs, 2)
	for _, sql := range db.execs {
		assert.Contains(t, sql, "claimed_until = NULL")
	}
}
