package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/cassiomorais/leadflow/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const paymentColumns = `id, estimate_id, amount, currency, payment_type, status,
	external_checkout_id, external_payment_intent_id, external_charge_id,
	idempotency_key, metadata, paid_at, version, created_at, updated_at`

// PaymentRepository implements payment.Repository using PostgreSQL.
type PaymentRepository struct {
	pool DBTX
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(pool DBTX) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts a new payment. A second payment with the same estimate and
// idempotency key fails with ErrDuplicateIdempotencyKey.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		p.ID, p.EstimateID, p.Amount.ValueCents, p.Amount.Currency, string(p.Type), string(p.Status),
		p.ExternalCheckoutID, p.ExternalPaymentIntentID, p.ExternalChargeID,
		p.IdempotencyKey, metadata, p.PaidAt, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domainErrors.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment by its ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	p, err := scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainErrors.ErrPaymentNotFound
	}
	return p, err
}

func (r *PaymentRepository) FindByIdempotencyKey(ctx context.Context, estimateID uuid.UUID, key string) (*payment.Payment, bool, error) {
	return r.findOne(ctx, `estimate_id = $1 AND idempotency_key = $2`, estimateID, key)
}

func (r *PaymentRepository) FindByCheckoutID(ctx context.Context, checkoutID string) (*payment.Payment, bool, error) {
	return r.findOne(ctx, `external_checkout_id = $1`, checkoutID)
}

func (r *PaymentRepository) FindByPaymentIntentID(ctx context.Context, intentID string) (*payment.Payment, bool, error) {
	return r.findOne(ctx, `external_payment_intent_id = $1`, intentID)
}

func (r *PaymentRepository) FindByChargeID(ctx context.Context, chargeID string) (*payment.Payment, bool, error) {
	return r.findOne(ctx, `external_charge_id = $1`, chargeID)
}

func (r *PaymentRepository) findOne(ctx context.Context, where string, args ...any) (*payment.Payment, bool, error) {
	p, err := scanPayment(r.db(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE `+where+` ORDER BY created_at DESC LIMIT 1`, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// ListByEstimate lists an estimate's payments, oldest first.
func (r *PaymentRepository) ListByEstimate(ctx context.Context, estimateID uuid.UUID, status *payment.Status) ([]*payment.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE estimate_id = $1`
	args := []any{estimateID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []*payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// Update writes p if nobody changed the row since it was read and bumps p.Version.
func (r *PaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	now := time.Now().UTC()

	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payments SET
		  status=$1, external_checkout_id=$2, external_payment_intent_id=$3, external_charge_id=$4,
		  metadata=$5, paid_at=$6, version=version+1, updated_at=$7
		 WHERE id=$8 AND version=$9`,
		string(p.Status), p.ExternalCheckoutID, p.ExternalPaymentIntentID, p.ExternalChargeID,
		metadata, p.PaidAt, now, p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s version %d: %w", p.ID, p.Version, domainErrors.ErrOptimisticLockFailed)
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

// AddEvent inserts a payment event.
func (r *PaymentRepository) AddEvent(ctx context.Context, event *payment.PaymentEvent) error {
	data, err := json.Marshal(event.EventData)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO payment_events (id, payment_id, event_type, event_data, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.PaymentID, event.EventType, data, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment event: %w", err)
	}
	return nil
}

// GetEvents retrieves events for a payment.
func (r *PaymentRepository) GetEvents(ctx context.Context, paymentID uuid.UUID) ([]*payment.PaymentEvent, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, payment_id, event_type, event_data, created_at
		 FROM payment_events WHERE payment_id = $1 ORDER BY created_at ASC`, paymentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list payment events: %w", err)
	}
	defer rows.Close()

	var events []*payment.PaymentEvent
	for rows.Next() {
		e := &payment.PaymentEvent{}
		var data []byte
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.EventType, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(data, &e.EventData); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// scanPayment returns pgx.ErrNoRows unwrapped so callers can tell a miss from a failure.
func scanPayment(s scanner) (*payment.Payment, error) {
	p := &payment.Payment{Metadata: make(map[string]any)}
	var (
		paymentType string
		status      string
		metadata    []byte
	)
	err := s.Scan(
		&p.ID, &p.EstimateID, &p.Amount.ValueCents, &p.Amount.Currency, &paymentType, &status,
		&p.ExternalCheckoutID, &p.ExternalPaymentIntentID, &p.ExternalChargeID,
		&p.IdempotencyKey, &metadata, &p.PaidAt, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	p.Type = payment.Type(paymentType)
	p.Status = payment.Status(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal payment metadata: %w", err)
		}
	}
	return p, nil
}
