package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTxConflict is returned when a serializable transaction keeps failing after every retry.
var ErrTxConflict = errors.New("transaction conflict, try again")

const (
	maxAttempts    = 8
	firstBackoff   = 75 * time.Millisecond
	backoffCeiling = 1200 * time.Millisecond
)

func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Serializable runs fn in a serializable transaction and commits it, retrying the whole function on
// serialization failures with doubling backoff. fn must be safe to run more than once.
func Serializable(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) error) error {
	delay := firstBackoff
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := runTx(ctx, db, fn)
		if err == nil {
			return nil
		}
		if !IsSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}
		if err := SleepWithContext(ctx, delay); err != nil {
			return err
		}
		if delay < backoffCeiling {
			delay *= 2
		}
	}
	return ErrTxConflict
}

func runTx(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func IsSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func SleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
