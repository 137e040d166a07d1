package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"iproperty-etl/config"
)

// ErrTableLocked is returned when another loader holds the table.
var ErrTableLocked = errors.New("storage: table is locked by another loader")

// TableLock grants a single writer per table. The returned release func must
// be called once the writer is done.
type TableLock interface {
	Acquire(ctx context.Context, table string) (release func(), err error)
}

// NewTableLock returns a Postgres advisory lock or, for SQLite, a lock shared
// by every user of db inside this process.
func NewTableLock(db *DB) TableLock {
	if db.Driver == config.DriverPostgres {
		return &advisoryLock{db: db}
	}
	return db.locks
}

// advisoryLock holds pg_try_advisory_lock on a dedicated connection, since
// session locks belong to the connection that took them.
type advisoryLock struct {
	db *DB
}

func (l *advisoryLock) Acquire(ctx context.Context, table string) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock: conn: %w", err)
	}

	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, table).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("lock: %s: %w", table, err)
	}
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrTableLocked, table)
	}

	return func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, table)
		_ = conn.Close()
	}, nil
}

type localLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newLocalLocks() *localLocks {
	return &localLocks{held: make(map[string]bool)}
}

func (l *localLocks) Acquire(_ context.Context, table string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[table] {
		return nil, fmt.Errorf("%w: %s", ErrTableLocked, table)
	}
	l.held[table] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, table)
			l.mu.Unlock()
		})
	}, nil
}
