// Package postgres provides the PostgreSQL-backed implementations of the
// identity store and the refresh session store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds the connection pool settings.
type Config struct {
	URL               string        `env:"CLINICAUTH_DATABASE_URL"`
	MaxConns          int32         `env:"CLINICAUTH_DB_MAX_CONNS" env-default:"10"`
	MinConns          int32         `env:"CLINICAUTH_DB_MIN_CONNS" env-default:"1"`
	MaxConnLifetime   time.Duration `env:"CLINICAUTH_DB_CONN_LIFETIME" env-default:"30m"`
	MaxConnIdleTime   time.Duration `env:"CLINICAUTH_DB_CONN_IDLE" env-default:"5m"`
	HealthCheckPeriod time.Duration `env:"CLINICAUTH_DB_HEALTHCHECK" env-default:"1m"`
	QueryTimeout      time.Duration `env:"CLINICAUTH_DB_QUERY_TIMEOUT" env-default:"5s"`
}

// DB wraps a pgx pool with a per-query timeout.
type DB struct {
	Pool         *pgxpool.Pool
	QueryTimeout time.Duration
}

// New builds the pool and verifies connectivity before returning.
func New(ctx context.Context, cfg Config) (*DB, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pcfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		pcfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(hctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &DB{Pool: pool, QueryTimeout: cfg.QueryTimeout}, nil
}

// Close releases the pool.
func (db *DB) Close() { db.Pool.Close() }

func (db *DB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, db.QueryTimeout)
}
