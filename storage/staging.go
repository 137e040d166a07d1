package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"iproperty-etl/config"
	"iproperty-etl/models"
	"iproperty-etl/schema"
	"iproperty-etl/utils"
)

var (
	// ErrEmptyImport aborts a load that was handed no rows at all.
	ErrEmptyImport = errors.New("staging: nothing imported")
	// ErrNotFound is returned by Get for an unknown property id.
	ErrNotFound = errors.New("staging: property not found")
)

// UpsertMode selects how an existing row absorbs an incoming one.
type UpsertMode int

const (
	// UpsertOverwrite replaces every business column.
	UpsertOverwrite UpsertMode = iota
	// UpsertConditional keeps the stored house_price and posted_date unless
	// the incoming posted_date is strictly newer.
	UpsertConditional
)

func (m UpsertMode) String() string {
	if m == UpsertConditional {
		return "conditional"
	}
	return "overwrite"
}

// CommitPolicy selects the transaction granularity of a load.
type CommitPolicy int

const (
	CommitAfterBatch CommitPolicy = iota
	CommitAfterRow
)

func (p CommitPolicy) String() string {
	if p == CommitAfterRow {
		return "row"
	}
	return "batch"
}

// ParseCommitPolicy maps "row" and "batch" to a CommitPolicy.
func ParseCommitPolicy(s string) (CommitPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "batch", "":
		return CommitAfterBatch, nil
	case "row":
		return CommitAfterRow, nil
	}
	return CommitAfterBatch, fmt.Errorf("staging: unknown commit policy %q", s)
}

// Change-tracking columns appended to the declared staging schema.
var scdColumns = []schema.Column{
	{Name: "valid_from", Type: "TIMESTAMP"},
	{Name: "valid_to", Type: "TIMESTAMP", Nullable: true},
	{Name: "is_current", Type: "BOOLEAN"},
	{Name: "row_hash", Type: "VARCHAR(64)"},
}

var stagingColumns = append(append([]string{}, models.CanonicalColumns...),
	"valid_from", "valid_to", "is_current", "row_hash")

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeInserted
	outcomeUpdated
)

// StagingStore owns the staging table: one current row per property_id.
type StagingStore struct {
	db     *DB
	table  string
	def    *schema.Table
	policy CommitPolicy
	lock   TableLock
	logger *utils.Logger
	now    func() time.Time

	selectSQL string
	upsertSQL string
}

// NewStagingStore validates def against the canonical columns and prepares
// the statements for table.
func NewStagingStore(db *DB, table string, def *schema.Table, policy CommitPolicy, logger *utils.Logger) (*StagingStore, error) {
	if err := def.Require(models.CanonicalColumns...); err != nil {
		return nil, err
	}

	quoted := make([]string, len(stagingColumns))
	placeholders := make([]string, len(stagingColumns))
	var updates []string
	for i, c := range stagingColumns {
		quoted[i] = schema.Quote(c)
		placeholders[i] = "?"
		if c != "property_id" {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", quoted[i], quoted[i]))
		}
	}
	cols := strings.Join(quoted, ", ")
	qt := schema.Quote(table)
	upsert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		qt, cols, strings.Join(placeholders, ", "), schema.Quote("property_id"), strings.Join(updates, ", "))

	return &StagingStore{
		db:        db,
		table:     table,
		def:       def,
		policy:    policy,
		lock:      NewTableLock(db),
		logger:    logger,
		now:       time.Now,
		selectSQL: fmt.Sprintf("SELECT %s FROM %s", cols, qt),
		upsertSQL: db.Rebind(upsert),
	}, nil
}

// WithClock replaces the clock used for valid_from.
func (s *StagingStore) WithClock(now func() time.Time) *StagingStore {
	s.now = now
	return s
}

// EnsureTable creates the staging table when missing.
func (s *StagingStore) EnsureTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.def.CreateStatement(s.table, "property_id", scdColumns...)); err != nil {
		return fmt.Errorf("staging: create %s: %w", s.table, err)
	}
	return nil
}

// HasRows reports whether the staging table holds any row.
func (s *StagingStore) HasRows(ctx context.Context) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", schema.Quote(s.table))).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("staging: probe %s: %w", s.table, err)
	}
	return true, nil
}

// Truncate empties the staging table.
func (s *StagingStore) Truncate(ctx context.Context) error {
	stmt := "DELETE FROM " + schema.Quote(s.table)
	if s.db.Driver == config.DriverPostgres {
		stmt = "TRUNCATE TABLE " + schema.Quote(s.table)
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("staging: truncate %s: %w", s.table, err)
	}
	return nil
}

// Load writes records under the table lock. A fresh table is truncated and
// filled with UpsertOverwrite; a populated one is merged with
// UpsertConditional.
func (s *StagingStore) Load(ctx context.Context, records []*models.CanonicalRecord) (models.LoadStats, error) {
	if len(records) == 0 {
		return models.LoadStats{}, ErrEmptyImport
	}

	release, err := s.lock.Acquire(ctx, s.table)
	if err != nil {
		return models.LoadStats{}, err
	}
	defer release()

	if err := s.EnsureTable(ctx); err != nil {
		return models.LoadStats{}, err
	}
	hasRows, err := s.HasRows(ctx)
	if err != nil {
		return models.LoadStats{}, err
	}

	mode := UpsertConditional
	if !hasRows {
		if err := s.Truncate(ctx); err != nil {
			return models.LoadStats{}, err
		}
		mode = UpsertOverwrite
	}

	stats, err := s.Upsert(ctx, records, mode)
	if err != nil {
		return stats, err
	}
	if stats.Processed() == 0 {
		return stats, ErrEmptyImport
	}

	s.logger.Info("[staging] %s load into %s: %d inserted, %d updated, %d unchanged",
		mode, s.table, stats.Inserted, stats.Updated, stats.Unchanged)
	return stats, nil
}

// Upsert applies records in order under the store's commit policy. With
// CommitAfterRow, rows before a failing one stay committed.
func (s *StagingStore) Upsert(ctx context.Context, records []*models.CanonicalRecord, mode UpsertMode) (models.LoadStats, error) {
	var stats models.LoadStats
	now := s.now().UTC()

	if s.policy == CommitAfterRow {
		for _, rec := range records {
			err := s.inTx(ctx, func(tx *sql.Tx) error {
				o, err := s.upsertRow(ctx, tx, rec, mode, now)
				if err == nil {
					stats = count(stats, o)
				}
				return err
			})
			if err != nil {
				return stats, err
			}
		}
		return stats, nil
	}

	var batch models.LoadStats
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range records {
			o, err := s.upsertRow(ctx, tx, rec, mode, now)
			if err != nil {
				return err
			}
			batch = count(batch, o)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	return batch, nil
}

func count(stats models.LoadStats, o outcome) models.LoadStats {
	switch o {
	case outcomeInserted:
		stats.Inserted++
	case outcomeUpdated:
		stats.Updated++
	default:
		stats.Unchanged++
	}
	return stats
}

func (s *StagingStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("staging: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("staging: commit: %w", err)
	}
	return nil
}

func (s *StagingStore) upsertRow(ctx context.Context, q querier, rec *models.CanonicalRecord, mode UpsertMode, now time.Time) (outcome, error) {
	incoming := normalize(*rec)

	existing, err := s.get(ctx, q, incoming.PropertyID)
	if err != nil {
		return outcomeUnchanged, err
	}
	if existing != nil && mode == UpsertConditional {
		incoming = normalize(mergeConditional(existing.CanonicalRecord, incoming))
	}

	hash := models.RowHash(&incoming)
	if existing != nil && existing.RowHash == hash && existing.IsCurrent {
		return outcomeUnchanged, nil
	}

	var posted any
	if incoming.PostedDate != nil {
		posted = *incoming.PostedDate
	}
	_, err = q.ExecContext(ctx, s.upsertSQL,
		incoming.PropertyID, incoming.PageLink, incoming.Source, incoming.AgentName,
		incoming.State, incoming.Area, incoming.HousePrice, incoming.PricePerSqft,
		incoming.HouseName, incoming.HouseLocation, incoming.HouseType, incoming.LotType,
		incoming.SquareFootage, incoming.HouseFurniture, posted, incoming.CreatedAt,
		now, nil, true, hash,
	)
	if err != nil {
		return outcomeUnchanged, fmt.Errorf("staging: upsert %s: %w", incoming.PropertyID, err)
	}

	if existing == nil {
		return outcomeInserted, nil
	}
	return outcomeUpdated, nil
}

// mergeConditional takes every column from in, except that house_price and
// posted_date keep their stored values unless in was posted later.
func mergeConditional(stored, in models.CanonicalRecord) models.CanonicalRecord {
	newer := in.PostedDate != nil && (stored.PostedDate == nil || stored.PostedDate.Before(*in.PostedDate))
	if !newer {
		in.HousePrice = stored.HousePrice
		in.PostedDate = stored.PostedDate
	}
	return in
}

// normalize brings a record to the precision the table stores, so that a
// stored row hashes the same as the record it came from.
func normalize(rec models.CanonicalRecord) models.CanonicalRecord {
	rec.HousePrice = round2(rec.HousePrice)
	rec.PricePerSqft = round2(rec.PricePerSqft)
	rec.SquareFootage = round2(rec.SquareFootage)
	rec.CreatedAt = rec.CreatedAt.UTC().Truncate(time.Second)
	if rec.PostedDate != nil {
		p := rec.PostedDate.UTC().Truncate(time.Second)
		rec.PostedDate = &p
	}
	return rec
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Get returns the stored row for id.
func (s *StagingStore) Get(ctx context.Context, id string) (*models.StagingRow, error) {
	row, err := s.get(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return row, nil
}

func (s *StagingStore) get(ctx context.Context, q querier, id string) (*models.StagingRow, error) {
	row, err := scanStagingRow(q.QueryRowContext(ctx, s.db.Rebind(s.selectSQL+" WHERE "+schema.Quote("property_id")+" = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("staging: get %s: %w", id, err)
	}
	return row, nil
}

// FetchAll returns every staging row ordered by property_id.
func (s *StagingStore) FetchAll(ctx context.Context) ([]*models.StagingRow, error) {
	rows, err := s.db.QueryContext(ctx, s.selectSQL+" ORDER BY "+schema.Quote("property_id"))
	if err != nil {
		return nil, fmt.Errorf("staging: fetch all: %w", err)
	}
	defer rows.Close()

	var out []*models.StagingRow
	for rows.Next() {
		r, err := scanStagingRow(rows)
		if err != nil {
			return nil, fmt.Errorf("staging: scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStagingRow(sc rowScanner) (*models.StagingRow, error) {
	var (
		r                                   models.StagingRow
		posted, created, validFrom, validTo nullTime
	)
	err := sc.Scan(
		&r.PropertyID, &r.PageLink, &r.Source, &r.AgentName, &r.State, &r.Area,
		&r.HousePrice, &r.PricePerSqft, &r.HouseName, &r.HouseLocation, &r.HouseType,
		&r.LotType, &r.SquareFootage, &r.HouseFurniture, &posted, &created,
		&validFrom, &validTo, &r.IsCurrent, &r.RowHash,
	)
	if err != nil {
		return nil, err
	}
	r.PostedDate = posted.ptr()
	r.CreatedAt = created.Time
	r.ValidFrom = validFrom.Time
	r.ValidTo = validTo.ptr()
	return &r, nil
}
