package postgres

import (
	"testing"
	"time"

	"github.com/cassiomorais/leadflow/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDatabaseConfig() *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "leadflow",
		Password:        "secret",
		Database:        "leadflow",
		SSLMode:         "disable",
		MaxConnections:  20,
		MinConnections:  2,
		ConnMaxLifetime: time.Hour,
	}
}

func TestPoolConfig_AppliesSettings(t *testing.T) {
	pc, err := poolConfig(testDatabaseConfig(), "leadflow-worker")
	require.NoError(t, err)

	assert.EqualValues(t, 20, pc.MaxConns)
	assert.EqualValues(t, 2, pc.MinConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
	assert.Equal(t, idleConnTimeout, pc.MaxConnIdleTime)
	assert.Equal(t, "leadflow-worker", pc.ConnConfig.RuntimeParams["application_name"])
}

func TestPoolConfig_IgnoresMinAboveMax(t *testing.T) {
	cfg := testDatabaseConfig()
	cfg.MaxConnections = 4
	cfg.MinConnections = 10

	pc, err := poolConfig(cfg, "")
	require.NoError(t, err)
	assert.EqualValues(t, 4, pc.MaxConns)
	assert.Zero(t, pc.MinConns)
	assert.NotContains(t, pc.ConnConfig.RuntimeParams, "application_name")
}
