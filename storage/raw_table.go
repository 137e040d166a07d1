package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"iproperty-etl/models"
	"iproperty-etl/schema"
	"iproperty-etl/utils"
)

// sourceFileColumn records which raw batch file a landed row came from.
var sourceFileColumn = schema.Column{Name: "source_file", Type: "VARCHAR(255)", Nullable: true}

// NewPostgresPool creates a pgx connection pool and checks it answers.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("pgx: database URL is required")
	}

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgx: parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("pgx: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx: ping: %w", err)
	}
	return pool, nil
}

// RawTable lands raw batches verbatim in Postgres with COPY.
type RawTable struct {
	pool    *pgxpool.Pool
	table   string
	def     *schema.Table
	columns []string
	logger  *utils.Logger
}

// NewRawTable checks that def declares every raw column.
func NewRawTable(pool *pgxpool.Pool, table string, def *schema.Table, logger *utils.Logger) (*RawTable, error) {
	if pool == nil {
		return nil, fmt.Errorf("raw: pgxpool.Pool cannot be nil")
	}

	cols := make([]string, 0, len(models.RawColumns)+1)
	for _, c := range models.RawColumns {
		cols = append(cols, strings.ToLower(c))
	}
	if err := def.Require(cols...); err != nil {
		return nil, err
	}
	cols = append(cols, sourceFileColumn.Name)

	return &RawTable{pool: pool, table: table, def: def, columns: cols, logger: logger}, nil
}

// Recreate drops and recreates the raw table from its descriptor.
func (t *RawTable) Recreate(ctx context.Context) error {
	if _, err := t.pool.Exec(ctx, "DROP TABLE IF EXISTS "+schema.Quote(t.table)); err != nil {
		return fmt.Errorf("raw: drop %s: %w", t.table, err)
	}
	if _, err := t.pool.Exec(ctx, t.def.CreateStatement(t.table, "", sourceFileColumn)); err != nil {
		return fmt.Errorf("raw: create %s: %w", t.table, err)
	}
	return nil
}

// Land copies every record of batches into the table. Call Recreate first
// to start from an empty table.
func (t *RawTable) Land(ctx context.Context, batches []*models.RawBatch) (int64, error) {
	var total int64
	for _, b := range batches {
		n, err := t.pool.CopyFrom(ctx, pgx.Identifier{t.table}, t.columns, pgx.CopyFromRows(copyRows(b)))
		if err != nil {
			return total, fmt.Errorf("raw: copy %s: %w", b.FileName, err)
		}
		total += n
		t.logger.Debug("[raw] %s: %d rows landed", b.FileName, n)
	}

	t.logger.Info("[raw] %d rows from %d files landed in %s", total, len(batches), t.table)
	return total, nil
}

// Count returns the number of landed rows.
func (t *RawTable) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := t.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+schema.Quote(t.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("raw: count %s: %w", t.table, err)
	}
	return n, nil
}

func copyRows(b *models.RawBatch) [][]any {
	rows := make([][]any, 0, len(b.Records))
	for _, r := range b.Records {
		vals := r.Values()
		row := make([]any, 0, len(vals)+1)
		for _, v := range vals {
			if v == "" {
				row = append(row, nil)
				continue
			}
			row = append(row, v)
		}
		rows = append(rows, append(row, b.FileName))
	}
	return rows
}
