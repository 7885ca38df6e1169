// Package db opens the Postgres pool and applies migrations.
package db

import (
	"context"
	"fmt"
	"time"

	"leadrouting_backend/platform/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Identity locks pin one connection per in-flight ingestion on top of the
// connections its queries use.
const minHeadroom = 4

// NewPool connects to the configured database and verifies it answers.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	maxConns := int32(cfg.GetDatabaseMaxConns())
	if maxConns < minHeadroom+1 {
		maxConns = minHeadroom + 1
	}
	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = min(5, maxConns/2)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
