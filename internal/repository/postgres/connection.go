package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/leadflow/internal/infrastructure/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	idleConnTimeout = 30 * time.Minute
	pingTimeout     = 5 * time.Second
)

// NewPool opens the pool and checks one connection before returning.
// Sessions carry application_name so pg_stat_activity tells the api and the
// worker apart; row locks held by a stuck relay are then easy to attribute.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig, applicationName string) (*pgxpool.Pool, error) {
	pc, err := poolConfig(cfg, applicationName)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}
	return pool, nil
}

func poolConfig(cfg *config.DatabaseConfig, applicationName string) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	if cfg.MaxConnections > 0 {
		pc.MaxConns = int32(cfg.MaxConnections)
	}
	if cfg.MinConnections > 0 && cfg.MinConnections <= cfg.MaxConnections {
		pc.MinConns = int32(cfg.MinConnections)
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	pc.MaxConnIdleTime = idleConnTimeout
	pc.HealthCheckPeriod = time.Minute

	if applicationName != "" {
		pc.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	return pc, nil
}
