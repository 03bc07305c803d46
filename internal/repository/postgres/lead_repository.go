package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/cassiomorais/leadflow/internal/domain/lead"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type LeadRepository struct {
	pool DBTX
}

func NewLeadRepository(pool DBTX) *LeadRepository {
	return &LeadRepository{pool: pool}
}

func (r *LeadRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *LeadRepository) GetByID(ctx context.Context, id uuid.UUID) (*lead.Lead, error) {
	l := &lead.Lead{}
	err := r.db(ctx).QueryRow(ctx,
		`SELECT id, name, email, external_customer_id, created_at FROM leads WHERE id = $1`, id,
	).Scan(&l.ID, &l.Name, &l.Email, &l.ExternalCustomerID, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrLeadNotFound
		}
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

// SetExternalCustomerID records the processor customer id. An id that is
// already set is left alone.
func (r *LeadRepository) SetExternalCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE leads SET external_customer_id = $1 WHERE id = $2 AND external_customer_id IS NULL`,
		customerID, id,
	)
	if err != nil {
		return fmt.Errorf("set lead customer id: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return nil
}
