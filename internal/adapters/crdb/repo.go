package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/vehicle-rentals/internal/domain"
	"github.com/robertarktes/vehicle-rentals/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
	ForeignKeyViolationCode  = "23503"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithTx runs fn in a serializable transaction. Errors from fn and from the
// commit are translated to domain errors.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	started := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(started).Seconds())
	}()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return errors.Wrap(err, "set isolation")
	}

	if err := fn(tx); err != nil {
		return translate(err)
	}

	return translate(tx.Commit(ctx))
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SerializationFailureCode:
			return errors.Mark(errors.Wrap(err, "serialization failure"), domain.ErrSerializationFailure)
		case UniqueViolationCode:
			return errors.Mark(errors.Wrap(err, pgErr.ConstraintName), domain.ErrConflict)
		case ForeignKeyViolationCode:
			return errors.Mark(errors.Wrap(err, pgErr.ConstraintName), domain.ErrNotFound)
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}
