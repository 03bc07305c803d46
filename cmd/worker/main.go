package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/leadflow/internal/application/relay"
	"github.com/cassiomorais/leadflow/internal/bootstrap"
	infraRedis "github.com/cassiomorais/leadflow/internal/infrastructure/redis"
	"github.com/cassiomorais/leadflow/internal/repository/postgres"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "leadflow-worker", "leadflow_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close(context.Background())

	workerCfg := app.Config.Worker

	// --- Repositories ---
	outboxRepo := postgres.NewOutboxRepository(app.Pool)
	webhookEvents := postgres.NewWebhookEventRepository(app.Pool, app.Config.Payment.EventRetention)
	publisher := infraRedis.NewStreamPublisher(app.Redis, workerCfg.EventStream)

	outboxRelay := relay.NewOutboxRelay(outboxRepo, publisher, app.TxManager, workerCfg.BatchSize, workerCfg.OutboxClaimLease, app.Logger, app.Metrics)

	app.Logger.Info().
		Str("stream", publisher.Stream()).
		Dur("poll_interval", workerCfg.OutboxPollInterval).
		Dur("claim_lease", workerCfg.OutboxClaimLease).
		Dur("cleanup_interval", workerCfg.CleanupInterval).
		Msg("Worker started")

	// Signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Outbox relay (polls the outbox table and publishes to the Redis stream).
	g.Go(func() error {
		return outboxRelay.Run(gCtx, workerCfg.OutboxPollInterval)
	})

	// 2. Webhook dedupe table cleanup.
	g.Go(func() error {
		return runCleanup(gCtx, app.Logger, webhookEvents, workerCfg.CleanupInterval)
	})

	// 3. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

func runCleanup(ctx context.Context, logger zerolog.Logger, events *postgres.WebhookEventRepository, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		n, err := events.Cleanup(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Webhook event cleanup failed")
			continue
		}
		if n > 0 {
			logger.Info().Int64("deleted", n).Msg("Purged expired webhook events")
		}
	}
}
