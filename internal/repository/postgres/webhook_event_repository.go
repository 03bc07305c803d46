package postgres

import (
	"context"
	"fmt"
	"time"
)

// WebhookEventRepository remembers which processor events were already
// handled, so redeliveries can be answered without touching payments.
type WebhookEventRepository struct {
	pool      DBTX
	retention time.Duration
}

func NewWebhookEventRepository(pool DBTX, retention time.Duration) *WebhookEventRepository {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &WebhookEventRepository{pool: pool, retention: retention}
}

func (r *WebhookEventRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *WebhookEventRepository) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := r.db(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1 AND expires_at > NOW())`, eventID,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("check webhook event: %w", err)
	}
	return seen, nil
}

// MarkProcessed records the event. Called inside the transaction that applied
// it, so the row exists only if the effects were committed.
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, eventID, kind, outcome string) error {
	now := time.Now().UTC()
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO webhook_events (event_id, kind, outcome, processed_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, kind, outcome, now, now.Add(r.retention),
	)
	if err != nil {
		return fmt.Errorf("mark webhook event: %w", err)
	}
	return nil
}

// Cleanup deletes rows past their retention and returns how many went.
func (r *WebhookEventRepository) Cleanup(ctx context.Context) (int64, error) {
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM webhook_events WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup webhook events: %w", err)
	}
	return tag.RowsAffected(), nil
}
