package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/leadflow/internal/domain/outbox"
	"github.com/cassiomorais/leadflow/internal/infrastructure/observability"
	"github.com/cassiomorais/leadflow/internal/repository/postgres"
	"github.com/rs/zerolog"
)

// Publisher delivers outbox entries to the event stream.
type Publisher interface {
	Publish(ctx context.Context, e *outbox.Entry) error
	PublishToDLQ(ctx context.Context, e *outbox.Entry, reason string) error
}

type delivery struct {
	entry *outbox.Entry
	err   error
}

// OutboxRelay moves pending outbox entries to the event stream. Delivery is
// at least once: an entry published right before a crash is published again.
type OutboxRelay struct {
	outbox    outbox.Repository
	publisher Publisher
	txManager postgres.Transactor
	batchSize int
	lease     time.Duration
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// DefaultClaimLease bounds how long a page stays hidden from other relays
// when its holder dies before recording the outcome.
const DefaultClaimLease = 30 * time.Second

func NewOutboxRelay(
	repo outbox.Repository,
	publisher Publisher,
	txManager postgres.Transactor,
	batchSize int,
	lease time.Duration,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 10
	}
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	return &OutboxRelay{
		outbox:    repo,
		publisher: publisher,
		txManager: txManager,
		batchSize: batchSize,
		lease:     lease,
		logger:    logger,
		metrics:   metrics,
	}
}

// RunOnce claims one page of pending entries, publishes it and returns how
// many were delivered to the main stream.
func (r *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	entries, err := r.outbox.ClaimPending(ctx, r.batchSize, r.lease)
	if err != nil {
		return 0, fmt.Errorf("claim pending outbox: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	// Publish outside any transaction; only the bookkeeping is transactional.
	deliveries := make([]delivery, 0, len(entries))
	published := 0
	for _, e := range entries {
		err := r.publisher.Publish(ctx, e)
		if err == nil {
			published++
			r.metrics.ObserveOutbox(e.EventType, "published")
		} else {
			r.logger.Error().Err(err).
				Str("outbox_id", e.ID.String()).
				Str("event_type", e.EventType).
				Int("retry_count", e.RetryCount).
				Msg("Failed to publish outbox event")
			if e.Exhausted() {
				r.deadLetter(ctx, e, err)
			} else {
				r.metrics.ObserveOutbox(e.EventType, "failed")
			}
		}
		deliveries = append(deliveries, delivery{entry: e, err: err})
	}

	_, err = postgres.ExecuteBatched(ctx, r.txManager, deliveries, len(deliveries), func(ctx context.Context, batch []delivery) error {
		for _, d := range batch {
			if d.err == nil {
				if err := r.outbox.MarkPublished(ctx, d.entry.ID); err != nil {
					return err
				}
				continue
			}
			if err := r.outbox.MarkFailed(ctx, d.entry.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return published, fmt.Errorf("record outbox deliveries: %w", err)
	}
	return published, nil
}

func (r *OutboxRelay) deadLetter(ctx context.Context, e *outbox.Entry, cause error) {
	if err := r.publisher.PublishToDLQ(ctx, e, cause.Error()); err != nil {
		r.logger.Error().Err(err).Str("outbox_id", e.ID.String()).Msg("Failed to dead-letter outbox event")
		r.metrics.ObserveOutbox(e.EventType, "failed")
		return
	}
	r.logger.Warn().Str("outbox_id", e.ID.String()).Str("event_type", e.EventType).Msg("Outbox event moved to DLQ")
	r.metrics.ObserveOutbox(e.EventType, "dead_lettered")
}

// Run polls every interval until ctx is done.
func (r *OutboxRelay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if n, err := r.RunOnce(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Outbox relay error")
		} else if n > 0 {
			r.logger.Debug().Int("published", n).Msg("Outbox relay published events")
		}
	}
}
