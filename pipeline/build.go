package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"iproperty-etl/config"
	"iproperty-etl/schema"
	"iproperty-etl/storage"
	"iproperty-etl/utils"
)

// Open connects to the configured database and assembles a Pipeline. The
// returned close function releases every connection.
func Open(ctx context.Context, cfg *config.Config, logger *utils.Logger) (*Pipeline, func(), error) {
	doc, err := schema.LoadFile(cfg.SchemaFile)
	if err != nil {
		return nil, nil, err
	}
	stagingDef, err := doc.Table(cfg.StagingSchemaKey)
	if err != nil {
		return nil, nil, err
	}
	policy, err := storage.ParseCommitPolicy(cfg.CommitPolicy)
	if err != nil {
		return nil, nil, err
	}

	if cfg.DBDriver == config.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}
	db, err := storage.OpenDB(ctx, cfg.DBDriver, cfg.DSN(), utils.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   2 * time.Second,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("[pipeline] Connected to %s", cfg.DBDriver)

	store, err := storage.NewStagingStore(db, cfg.StagingTable, stagingDef, policy, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	p := New(cfg, logger, store, storage.NewRunLedger(db))
	closers := []func(){func() { _ = db.Close() }}

	if cfg.RawLanding {
		rawDef, err := doc.Table(cfg.RawSchemaKey)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		pool, err := storage.NewPostgresPool(ctx, cfg.PostgresURL())
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		raw, err := storage.NewRawTable(pool, cfg.RawTable, rawDef, logger)
		if err != nil {
			pool.Close()
			_ = db.Close()
			return nil, nil, err
		}
		p.WithLander(raw)
		closers = append(closers, pool.Close)
	}

	return p, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}
