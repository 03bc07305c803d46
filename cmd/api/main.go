package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/leadflow/internal/application/checkout"
	"github.com/cassiomorais/leadflow/internal/application/webhook"
	"github.com/cassiomorais/leadflow/internal/bootstrap"
	"github.com/cassiomorais/leadflow/internal/controller"
	"github.com/cassiomorais/leadflow/internal/infrastructure/ai"
	"github.com/cassiomorais/leadflow/internal/infrastructure/processor"
	infraRedis "github.com/cassiomorais/leadflow/internal/infrastructure/redis"
	"github.com/cassiomorais/leadflow/internal/infrastructure/resilience"
	"github.com/cassiomorais/leadflow/internal/repository/postgres"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.New(ctx, "leadflow-api", "leadflow")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close(context.Background())

	cfg := app.Config

	// --- Repositories ---
	paymentRepo := postgres.NewPaymentRepository(app.Pool)
	estimateRepo := postgres.NewEstimateRepository(app.Pool)
	leadRepo := postgres.NewLeadRepository(app.Pool)
	outboxRepo := postgres.NewOutboxRepository(app.Pool)
	webhookEvents := postgres.NewWebhookEventRepository(app.Pool, cfg.Payment.EventRetention)

	// --- Downstreams ---
	gateway, err := processor.New(cfg.Payment, cfg.Resilience.Processor, app.Breakers)
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to build payment processor")
	}
	app.Logger.Info().Str("processor", gateway.Name()).Msg("Payment processor ready")

	// --- Use cases ---
	createCheckoutUC := checkout.NewCreateCheckoutUseCase(
		estimateRepo, leadRepo, paymentRepo, gateway, app.TxManager,
		cfg.Payment, app.Logger, app.Metrics,
	)
	getPaymentUC := checkout.NewGetPaymentUseCase(paymentRepo)
	reconcileUC := webhook.NewReconcileUseCase(
		paymentRepo, estimateRepo, outboxRepo, webhookEvents, app.TxManager,
		webhook.WithLocker(infraRedis.NewLocker(app.Redis), cfg.Redis.WebhookLockTTL),
		webhook.WithLogger(app.Logger),
		webhook.WithMetrics(app.Metrics),
	)
	syncPaymentUC := webhook.NewSyncPaymentUseCase(paymentRepo, gateway, reconcileUC)

	var aiController *controller.AIController
	if cfg.AI.APIKey != "" {
		aiExec := app.Breakers.Executor(resilience.DownstreamAI, cfg.Resilience.AI)
		opts := []ai.ServiceOption{ai.WithVisionModel(cfg.AI.VisionModel), ai.WithServiceLogger(app.Logger)}
		if cfg.Resilience.AI.VisionTimeout > 0 {
			visionCfg := resilience.ConfigFrom(cfg.Resilience.AI)
			visionCfg.Timeout = cfg.Resilience.AI.VisionTimeout
			opts = append(opts, ai.WithVisionConfig(visionCfg))
		}
		aiService := ai.NewService(ai.NewOpenAIClient(cfg.AI), aiExec, opts...)
		aiController = controller.NewAIController(aiService)
	} else {
		app.Logger.Warn().Msg("AI api key not set, AI endpoints disabled")
	}

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Checkout:   controller.NewCheckoutController(createCheckoutUC),
		Payments:   controller.NewPaymentController(getPaymentUC, syncPaymentUC),
		Webhooks:   controller.NewWebhookController(gateway, reconcileUC),
		Resilience: controller.NewResilienceController(app.Breakers),
		AI:         aiController,
		Health: controller.NewHealthController(
			controller.HealthCheck{Name: "database", Check: app.Pool.Ping},
			controller.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
				return app.Redis.Ping(ctx).Err()
			}},
		),
		Metrics:   app.Metrics,
		Logger:    app.Logger,
		Server:    cfg.Server,
		Auth:      cfg.Auth,
		RateLimit: cfg.RateLimit,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
