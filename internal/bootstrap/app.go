package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/cassiomorais/leadflow/internal/infrastructure/config"
	"github.com/cassiomorais/leadflow/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/leadflow/internal/infrastructure/redis"
	"github.com/cassiomorais/leadflow/internal/infrastructure/resilience"
	"github.com/cassiomorais/leadflow/internal/repository/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds the process-wide dependencies shared by the api and the worker.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *observability.Metrics
	Breakers  *resilience.Registry
	TxManager *postgres.TxManager

	shutdownTracer func(context.Context) error
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggerOptions{
		Level:    cfg.Observability.LogLevel,
		Format:   cfg.Observability.LogFormat,
		Service:  serviceName,
		Instance: cfg.InstanceID,
		Output:   os.Stdout,
	})
	logger.Info().Msg("Starting")

	app := &App{Config: cfg, Logger: logger}

	if cfg.Observability.EnableTracing {
		shutdown, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			app.shutdownTracer = shutdown
			logger.Info().Msg("Tracing enabled")
		}
	}

	if cfg.Observability.EnableMetrics {
		app.Metrics = observability.NewMetrics(metricsNamespace, nil)
		logger.Info().Msg("Metrics initialized")
	}

	app.Breakers = resilience.NewRegistry(logger, app.Metrics)

	pool, err := postgres.NewPool(ctx, &cfg.Database, serviceName)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	app.Pool = pool
	logger.Info().Msg("Connected to PostgreSQL")

	app.TxManager = postgres.NewTxManager(pool, logger, app.Metrics,
		postgres.WithTimeout(cfg.Transaction.Timeout),
		postgres.WithMaxRetries(cfg.Transaction.MaxRetries),
	)

	redisClient, err := infraRedis.NewClient(ctx, &cfg.Redis, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	app.Redis = redisClient
	logger.Info().Msg("Connected to Redis")

	return app, nil
}

// Close releases connections and flushes pending spans.
func (a *App) Close(ctx context.Context) {
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Tracer shutdown failed")
		}
	}
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Redis close failed")
	}
	a.Pool.Close()
}
