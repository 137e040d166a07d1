package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"iproperty-etl/models"
)

// ErrNoRuns is returned by Last when a stage has never run.
var ErrNoRuns = errors.New("runs: no run recorded")

const runsTable = "etl_runs"

// RunLedger records every stage execution in the etl_runs table.
type RunLedger struct {
	db  *DB
	now func() time.Time
}

func NewRunLedger(db *DB) *RunLedger {
	return &RunLedger{db: db, now: time.Now}
}

// WithClock replaces the ledger clock.
func (l *RunLedger) WithClock(now func() time.Time) *RunLedger {
	l.now = now
	return l
}

// EnsureTable creates etl_runs when missing.
func (l *RunLedger) EnsureTable(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+runsTable+` (
			run_id      VARCHAR(36) PRIMARY KEY,
			stage       VARCHAR(32) NOT NULL,
			status      VARCHAR(16) NOT NULL,
			started_at  TIMESTAMP   NOT NULL,
			finished_at TIMESTAMP,
			inserted    INTEGER     NOT NULL DEFAULT 0,
			updated     INTEGER     NOT NULL DEFAULT 0,
			unchanged   INTEGER     NOT NULL DEFAULT 0,
			message     TEXT        NOT NULL DEFAULT ''
		)`)
	if err != nil {
		return fmt.Errorf("runs: create table: %w", err)
	}
	return nil
}

// Start records a running stage and returns it.
func (l *RunLedger) Start(ctx context.Context, stage string) (*models.Run, error) {
	run := &models.Run{
		ID:        uuid.NewString(),
		Stage:     stage,
		Status:    models.RunRunning,
		StartedAt: l.now().UTC(),
	}
	_, err := l.db.ExecContext(ctx, l.db.Rebind(`
		INSERT INTO `+runsTable+` (run_id, stage, status, started_at) VALUES (?, ?, ?, ?)`),
		run.ID, run.Stage, run.Status, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("runs: start %s: %w", stage, err)
	}
	return run, nil
}

// Finish closes run with the load counts and the stage outcome.
func (l *RunLedger) Finish(ctx context.Context, run *models.Run, stats models.LoadStats, runErr error) error {
	finished := l.now().UTC()
	run.FinishedAt = &finished
	run.Inserted, run.Updated, run.Unchanged = stats.Inserted, stats.Updated, stats.Unchanged
	run.Status = models.RunSucceeded
	run.Message = ""
	if runErr != nil {
		run.Status = models.RunFailed
		run.Message = runErr.Error()
	}

	_, err := l.db.ExecContext(ctx, l.db.Rebind(`
		UPDATE `+runsTable+`
		SET status = ?, finished_at = ?, inserted = ?, updated = ?, unchanged = ?, message = ?
		WHERE run_id = ?`),
		run.Status, finished, run.Inserted, run.Updated, run.Unchanged, run.Message, run.ID)
	if err != nil {
		return fmt.Errorf("runs: finish %s: %w", run.ID, err)
	}
	return nil
}

// Last returns the most recently started run of stage.
func (l *RunLedger) Last(ctx context.Context, stage string) (*models.Run, error) {
	row := l.db.QueryRowContext(ctx, l.db.Rebind(`
		SELECT run_id, stage, status, started_at, finished_at, inserted, updated, unchanged, message
		FROM `+runsTable+`
		WHERE stage = ?
		ORDER BY started_at DESC
		LIMIT 1`), stage)

	var (
		run               models.Run
		started, finished nullTime
	)
	err := row.Scan(&run.ID, &run.Stage, &run.Status, &started, &finished,
		&run.Inserted, &run.Updated, &run.Unchanged, &run.Message)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoRuns, stage)
	}
	if err != nil {
		return nil, fmt.Errorf("runs: last %s: %w", stage, err)
	}
	run.StartedAt = started.Time
	run.FinishedAt = finished.ptr()
	return &run, nil
}
