// Package ledger implements the transactional runner, the
// idempotency/fingerprint module, the double-entry engine, and the
// read/audit paths.
package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"wallet-ledger/internal/domain"
)

// Runner acquires a serializable database transaction per ledger
// operation and guarantees release on every exit path.
type Runner struct {
	pool *pgxpool.Pool
}

func NewRunner(pool *pgxpool.Pool) *Runner { return &Runner{pool: pool} }

// RunSerializable executes fn inside a single serializable, read-write
// transaction. On fn returning nil it commits; on any error it rolls
// back and returns the classified error.
func (r *Runner) RunSerializable(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return domain.ServiceUnavailable("could not start transaction", err)
	}
	defer tx.Rollback(ctx) // no-op once committed

	if err := fn(ctx, tx); err != nil {
		return classifyError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyError(err)
	}
	return nil
}

// classifyError passes already-classified domain errors through
// unchanged. It translates driver-level serialization failures,
// deadlocks and unique violations into Conflict (the client may retry),
// and connection-class SQLSTATEs into ServiceUnavailable (fatal,
// non-retryable at this layer). Anything else propagates unchanged.
func classifyError(err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return de
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return domain.Conflict("transaction could not be serialized, retry")
		case "23505": // unique_violation not already handled by the caller
			return domain.Conflict("uniqueness constraint violated")
		}
		if strings.HasPrefix(pgErr.Code, "08") { // connection_exception class
			return domain.ServiceUnavailable("database connection error", err)
		}
	}

	return err
}
