package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/cassiomorais/leadflow/internal/domain/outbox"
	"github.com/google/uuid"
)

// OutboxRepository stores integration events next to the rows they describe.
type OutboxRepository struct {
	pool DBTX
}

func NewOutboxRepository(pool DBTX) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func (r *OutboxRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *OutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, status, retry_count, max_retries, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.AggregateType, entry.AggregateID, entry.EventType, payload,
		string(entry.Status), entry.RetryCount, entry.MaxRetries, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ClaimPending stamps claimed_until on the oldest unclaimed pending rows and
// returns them. Selecting and stamping is one statement, so SKIP LOCKED holds
// its row locks until the claim is written and concurrent relays get disjoint
// pages.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*outbox.Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	now := time.Now().UTC()
	rows, err := r.db(ctx).Query(ctx,
		`UPDATE outbox SET claimed_until = $3
		 WHERE id IN (
		     SELECT id FROM outbox
		     WHERE status = $1 AND (claimed_until IS NULL OR claimed_until <= $2)
		     ORDER BY created_at ASC
		     LIMIT $4
		     FOR UPDATE SKIP LOCKED)
		 RETURNING id, aggregate_type, aggregate_id, event_type, payload, status, retry_count, max_retries, created_at, published_at, claimed_until`,
		string(outbox.StatusPending), now, now.Add(lease), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim pending outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []*outbox.Entry
	for rows.Next() {
		e := &outbox.Entry{}
		var payload []byte
		var status string
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &payload, &status,
			&e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.PublishedAt, &e.ClaimedUntil); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.Status = outbox.Status(status)
		if len(payload) > 0 {
			e.Payload = make(map[string]any)
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal outbox payload: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim pending outbox entries: %w", err)
	}
	// RETURNING does not keep the subquery's order.
	slices.SortFunc(entries, func(a, b *outbox.Entry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return entries, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox SET status = $1, published_at = $2, claimed_until = NULL WHERE id = $3`,
		string(outbox.StatusPublished), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// MarkFailed counts a failed publish; the entry leaves the pending queue once
// it reaches max_retries.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox SET retry_count = retry_count + 1,
		        status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
		        claimed_until = NULL
		 WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}
