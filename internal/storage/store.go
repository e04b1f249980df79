package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"bondkeeper/internal/config"
)

const (
	applicationName     = "bondkeeper"
	healthCheckInterval = time.Minute
)

// NewPool opens the keeper's PostgreSQL pool. Connections are tagged with
// application_name so the advisory lock holder shows up in pg_stat_activity.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := poolConfigFor(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return pool, nil
}

func poolConfigFor(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	// the advisory lock pins one connection for a whole run
	maxConns := int32(cfg.MaxOpenConns)
	if maxConns < 2 {
		maxConns = 2
	}
	poolConfig.MaxConns = maxConns
	if cfg.MaxIdleConns > 0 && int32(cfg.MaxIdleConns) <= maxConns {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolConfig.HealthCheckPeriod = healthCheckInterval

	if _, ok := poolConfig.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	return poolConfig, nil
}
