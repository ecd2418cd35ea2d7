package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConflict indicates a concurrent writer changed the row first. Under
// repeatable read a blocked FOR UPDATE fails with a serialization error once
// the other transaction commits; WithTx reports that as ErrConflict.
var ErrConflict = errors.New("conflict")

const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// WithTx runs fn in a repeatable-read transaction. Any error returned by fn
// rolls back every statement issued through tx.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context, pgx.Tx) error) error {
	if pool == nil {
		return errors.New("platform/db: pool not initialised")
	}
	err := pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
	if isSerializationFailure(err) {
		return fmt.Errorf("platform/db: %w: %w", ErrConflict, err)
	}
	return err
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == serializationFailure || pgErr.Code == deadlockDetected
}
