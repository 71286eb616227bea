// Package store is the Persistence Gateway (C1): the only component
// allowed to issue SQL against users, conversations, participants,
// messages, and message_reads. Callers never see a query surface
// beyond the typed operations below.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Open creates and verifies a bounded Postgres connection pool. §5 asks
// for "at least 10 connections" as a reasonable default.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 20
	cfg.MinConns = 10
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().Int32("max_conns", cfg.MaxConns).Int32("min_conns", cfg.MinConns).Msg("postgres pool ready")
	return pool, nil
}
