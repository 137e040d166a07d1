package storage

import (
	"context"

	"iproperty-etl/models"
)

// RawWriter is the interface for persisting unprocessed scraped data.
type RawWriter interface {
	WriteRaw(records []*models.RawRecord) error
	Close() error
}

// StagingReader is the read side of the staging table.
type StagingReader interface {
	FetchAll(ctx context.Context) ([]*models.StagingRow, error)
	Get(ctx context.Context, id string) (*models.StagingRow, error)
}

// RunReader looks up recorded stage runs.
type RunReader interface {
	Last(ctx context.Context, stage string) (*models.Run, error)
}

var (
	_ RawWriter     = (*RawCSVWriter)(nil)
	_ StagingReader = (*StagingStore)(nil)
	_ RunReader     = (*RunLedger)(nil)
)
