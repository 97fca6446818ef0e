package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"ms-checkin/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrLockTimeout means another transaction held the row longer than LockTimeout.
	ErrLockTimeout = errors.New("row lock wait timed out")
	// ErrStatusConflict means a conditional status change matched no row.
	ErrStatusConflict = errors.New("event status changed concurrently")
)

// pgLockNotAvailable is the SQLSTATE raised when lock_timeout expires.
const pgLockNotAvailable = "55P03"

const DefaultLockTimeout = 5 * time.Second

type DB struct {
	Bun         *bun.DB
	LockTimeout time.Duration
}

func New(bunDB *bun.DB, lockTimeout time.Duration) *DB {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &DB{Bun: bunDB, LockTimeout: lockTimeout}
}

// RunInTx commits when fn returns nil and rolls back otherwise.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return d.Bun.RunInTx(ctx, nil, fn)
}

func (d *DB) isPostgres() bool {
	return d.Bun.Dialect().Name() == dialect.PG
}

// lockRows prepares q to take row locks. Postgres gets FOR UPDATE and a
// transaction-scoped lock wait limit; SQLite serializes writers on its own.
func (d *DB) lockRows(ctx context.Context, tx bun.Tx, q *bun.SelectQuery) (*bun.SelectQuery, error) {
	if !d.isPostgres() {
		return q, nil
	}
	if d.LockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.LockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, classify(err)
		}
	}
	return q.For("UPDATE"), nil
}

// classify maps driver errors onto the package sentinels. Only the lock wait
// limit set by lockRows yields ErrLockTimeout.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgLockNotAvailable {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	// A caller's own deadline is not lock contention and passes through.
	return err
}

// CreateSchema creates every table the service uses. Production databases
// are migrated with the SQL files instead; this serves tests and local runs.
func (d *DB) CreateSchema(ctx context.Context) error {
	tables := []interface{}{
		(*models.Event)(nil),
		(*models.Attendee)(nil),
		(*models.CheckInConfig)(nil),
		(*models.CheckInAudit)(nil),
		(*models.CheckInSession)(nil),
	}
	for _, model := range tables {
		if _, err := d.Bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}
