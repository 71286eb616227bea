package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duoline/chatcore/internal/apperr"
)

// maxTxAttempts bounds how many times WithTx retries a transaction
// that failed on a serialization conflict or deadlock, per §7.
const maxTxAttempts = 3

// retryableSQLState reports whether a Postgres error code is one
// serializable-isolation callers are expected to retry: 40001
// (serialization_failure) and 40P01 (deadlock_detected).
func retryableSQLState(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// gateway method run either standalone or inside WithTx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Gateway is the Persistence Gateway (C1): transactional, typed access
// to the chat core's tables. No ad-hoc query surface leaks to callers.
type Gateway struct {
	pool *pgxpool.Pool
}

// New wraps an open pool as a Gateway.
func New(pool *pgxpool.Pool) *Gateway {
	return &Gateway{pool: pool}
}

// Tx is a transactional handle passed to the callback of WithTx.
type Tx struct {
	pgx.Tx
}

// WithTx runs f under a single serializable transaction, committing on
// a nil return and rolling back otherwise. Serializable isolation is
// used because createMessageAndReads, transitionReads, and
// createOrGet1to1 all depend on invariants ordinary read-committed
// transactions can't guarantee under concurrency (§5).
//
// A transaction that fails with a serialization conflict or deadlock
// is retried whole, up to maxTxAttempts times, since f is expected to
// be idempotent-on-retry (it only ever observes committed state). If
// every attempt is retryable and exhausted, the last failure is
// surfaced wrapped as apperr.Transient so callers can decide whether
// to surface a retry-later response (§7).
func (g *Gateway) WithTx(ctx context.Context, f func(ctx context.Context, tx *Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		pgxTx, err := g.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}

		tx := &Tx{Tx: pgxTx}
		if err := f(ctx, tx); err != nil {
			_ = pgxTx.Rollback(ctx)
			if retryableSQLState(err) && attempt < maxTxAttempts {
				lastErr = err
				continue
			}
			if retryableSQLState(err) {
				return apperr.Wrap(apperr.Transient, "transaction retries exhausted", err)
			}
			return err
		}

		if err := pgxTx.Commit(ctx); err != nil {
			if retryableSQLState(err) && attempt < maxTxAttempts {
				lastErr = err
				continue
			}
			if retryableSQLState(err) {
				return apperr.Wrap(apperr.Transient, "transaction retries exhausted", err)
			}
			return err
		}
		return nil
	}
	return apperr.Wrap(apperr.Transient, "transaction retries exhausted", lastErr)
}
