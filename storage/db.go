package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"iproperty-etl/config"
	"iproperty-etl/utils"
)

// DB is a database handle that knows its SQL dialect.
type DB struct {
	*sql.DB
	Driver string

	locks *localLocks
}

// OpenDB opens the configured database and waits for it to answer a ping.
func OpenDB(ctx context.Context, driver, dsn string, retry utils.RetryConfig) (*DB, error) {
	var sqlDriver string
	switch driver {
	case config.DriverPostgres:
		sqlDriver = "postgres"
	case config.DriverSQLite:
		sqlDriver = "sqlite"
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", driver, err)
	}
	if driver == config.DriverSQLite {
		// an in-memory database exists once per connection
		db.SetMaxOpenConns(1)
	}

	err = retry.Do(ctx, driver+" ping", func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{DB: db, Driver: driver, locks: newLocalLocks()}, nil
}

// OpenSQLiteMemory opens a private in-memory SQLite database.
func OpenSQLiteMemory(ctx context.Context) (*DB, error) {
	return OpenDB(ctx, config.DriverSQLite, ":memory:", utils.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond})
}

// Rebind rewrites '?' placeholders into the driver's form.
func (d *DB) Rebind(query string) string {
	if d.Driver != config.DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// nullTime scans timestamps from drivers that return either time.Time or text.
type nullTime struct {
	Time  time.Time
	Valid bool
}

var scanTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (n *nullTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v, true
		return nil
	case []byte:
		return n.parse(string(v))
	case string:
		return n.parse(v)
	}
	return fmt.Errorf("db: cannot scan %T into a timestamp", src)
}

func (n *nullTime) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		n.Time, n.Valid = time.Time{}, false
		return nil
	}
	for _, layout := range scanTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t, true
			return nil
		}
	}
	return fmt.Errorf("db: unrecognised timestamp %q", s)
}

func (n nullTime) ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
