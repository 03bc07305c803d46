package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/cassiomorais/leadflow/internal/domain/estimate"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EstimateRepository implements estimate.Repository using PostgreSQL.
type EstimateRepository struct {
	pool DBTX
}

func NewEstimateRepository(pool DBTX) *EstimateRepository {
	return &EstimateRepository{pool: pool}
}

func (r *EstimateRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// GetByID loads an estimate with its contractor's deposit percentage.
func (r *EstimateRepository) GetByID(ctx context.Context, id uuid.UUID) (*estimate.Estimate, error) {
	e := &estimate.Estimate{}
	var status string
	err := r.db(ctx).QueryRow(ctx,
		`SELECT e.id, e.lead_id, e.contractor_id, e.status, e.total, e.currency,
		        e.expires_at, e.accepted_at, e.version, e.created_at, e.updated_at,
		        c.deposit_percentage::float8
		 FROM estimates e
		 JOIN contractors c ON c.id = e.contractor_id
		 WHERE e.id = $1`, id,
	).Scan(
		&e.ID, &e.LeadID, &e.ContractorID, &status, &e.Total, &e.Currency,
		&e.ExpiresAt, &e.AcceptedAt, &e.Version, &e.CreatedAt, &e.UpdatedAt,
		&e.DepositPercentage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrEstimateNotFound
		}
		return nil, fmt.Errorf("get estimate: %w", err)
	}
	e.Status = estimate.Status(status)
	return e, nil
}

// Update writes status and acceptance if the version still matches.
func (r *EstimateRepository) Update(ctx context.Context, e *estimate.Estimate) error {
	now := time.Now().UTC()
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE estimates SET status = $1, accepted_at = $2, version = version + 1, updated_at = $3
		 WHERE id = $4 AND version = $5`,
		string(e.Status), e.AcceptedAt, now, e.ID, e.Version,
	)
	if err != nil {
		return fmt.Errorf("update estimate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("estimate %s version %d: %w", e.ID, e.Version, domainErrors.ErrOptimisticLockFailed)
	}
	e.Version++
	e.UpdatedAt = now
	return nil
}
