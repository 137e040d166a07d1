package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"iproperty-etl/config"
	"iproperty-etl/models"
	"iproperty-etl/scraper/iproperty"
	"iproperty-etl/services"
	"iproperty-etl/storage"
	"iproperty-etl/utils"
)

// Pipeline stages, runnable one at a time or together with StageAll.
const (
	StageExtract   = "extract"
	StageLand      = "land"
	StageTransform = "transform"
	StageLoad      = "load"
	StageReport    = "report"
	StageAll       = "all"
)

// Stages lists the stages StageAll runs, in order.
var Stages = []string{StageExtract, StageLand, StageTransform, StageLoad, StageReport}

const (
	rawFilePattern     = "batch*_iproperty_*.csv"
	stagingFilePattern = "staging*.csv"
)

// ErrLandingDisabled is returned by the land stage when no raw table is wired.
var ErrLandingDisabled = errors.New("pipeline: raw landing is disabled (set RAW_LANDING=true)")

// Extractor produces raw batch files and returns their paths.
type Extractor interface {
	Scrape(ctx context.Context) ([]string, error)
}

// Lander copies raw batches into the raw landing table.
type Lander interface {
	Recreate(ctx context.Context) error
	Land(ctx context.Context, batches []*models.RawBatch) (int64, error)
}

// Pipeline runs the ETL stages and records each run in the ledger.
type Pipeline struct {
	cfg    *config.Config
	logger *utils.Logger

	extractor   Extractor
	lander      Lander
	transformer *services.Transformer
	merger      *services.Merger
	insights    *services.InsightService
	store       *storage.StagingStore
	runs        *storage.RunLedger
	out         io.Writer
}

// New creates a Pipeline over store and runs. The iproperty scraper is the
// default extractor; raw landing stays off until WithLander is called.
func New(cfg *config.Config, logger *utils.Logger, store *storage.StagingStore, runs *storage.RunLedger) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		logger:      logger,
		extractor:   iproperty.New(cfg, logger),
		transformer: services.NewTransformer(logger),
		merger:      services.NewMerger(logger),
		insights:    services.NewInsightService(logger),
		store:       store,
		runs:        runs,
		out:         os.Stdout,
	}
}

// WithExtractor replaces the scraper.
func (p *Pipeline) WithExtractor(e Extractor) *Pipeline {
	p.extractor = e
	return p
}

// WithLander enables the land stage.
func (p *Pipeline) WithLander(l Lander) *Pipeline {
	p.lander = l
	return p
}

// WithTransformer replaces the record transformer.
func (p *Pipeline) WithTransformer(t *services.Transformer) *Pipeline {
	p.transformer = t
	return p
}

// WithOutput redirects the printed report.
func (p *Pipeline) WithOutput(w io.Writer) *Pipeline {
	p.out = w
	return p
}

// Store returns the staging store.
func (p *Pipeline) Store() *storage.StagingStore { return p.store }

// Runs returns the run ledger.
func (p *Pipeline) Runs() *storage.RunLedger { return p.runs }

// Insights returns the report generator.
func (p *Pipeline) Insights() *services.InsightService { return p.insights }

// Run executes stage, or every stage in order for StageAll. StageAll stops
// at the first failing stage and skips land when it is not enabled.
func (p *Pipeline) Run(ctx context.Context, stage string) error {
	if err := p.runs.EnsureTable(ctx); err != nil {
		return err
	}

	if stage != StageAll {
		return p.runStage(ctx, stage)
	}
	for _, s := range Stages {
		if s == StageLand && p.lander == nil {
			p.logger.Info("[pipeline] Raw landing disabled, skipping %s", s)
			continue
		}
		if err := p.runStage(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, stage string) error {
	fn, ok := map[string]func(context.Context) (models.LoadStats, error){
		StageExtract:   p.extract,
		StageLand:      p.land,
		StageTransform: p.transform,
		StageLoad:      p.load,
		StageReport:    p.report,
	}[stage]
	if !ok {
		return fmt.Errorf("pipeline: unknown stage %q", stage)
	}

	run, err := p.runs.Start(ctx, stage)
	if err != nil {
		return err
	}
	p.logger.Info("[pipeline] === %s started (run %s) ===", stage, run.ID)

	stats, stageErr := fn(ctx)

	// the outcome is recorded even when ctx was cancelled mid-stage
	if err := p.runs.Finish(context.WithoutCancel(ctx), run, stats, stageErr); err != nil {
		p.logger.Error("[pipeline] Could not record %s run %s: %v", stage, run.ID, err)
	}
	if stageErr != nil {
		p.logger.Error("[pipeline] %s failed: %v", stage, stageErr)
		return fmt.Errorf("%s: %w", stage, stageErr)
	}
	p.logger.Info("[pipeline] === %s finished ===", stage)
	return nil
}

func (p *Pipeline) extract(ctx context.Context) (models.LoadStats, error) {
	if err := os.MkdirAll(p.cfg.RawDir, 0755); err != nil {
		return models.LoadStats{}, fmt.Errorf("create raw dir: %w", err)
	}
	files, err := p.extractor.Scrape(ctx)
	if err != nil {
		return models.LoadStats{}, err
	}
	p.logger.Info("[pipeline] Extracted %d raw files into %s", len(files), p.cfg.RawDir)
	return models.LoadStats{}, nil
}

func (p *Pipeline) land(ctx context.Context) (models.LoadStats, error) {
	if p.lander == nil {
		return models.LoadStats{}, ErrLandingDisabled
	}
	batches, err := p.readRawBatches()
	if err != nil {
		return models.LoadStats{}, err
	}
	if err := p.lander.Recreate(ctx); err != nil {
		return models.LoadStats{}, err
	}
	n, err := p.lander.Land(ctx, batches)
	if err != nil {
		return models.LoadStats{}, err
	}
	p.logger.Info("[pipeline] Landed %d raw rows from %d files", n, len(batches))
	return models.LoadStats{}, nil
}

func (p *Pipeline) transform(_ context.Context) (models.LoadStats, error) {
	batches, err := p.readRawBatches()
	if err != nil {
		return models.LoadStats{}, err
	}

	var transformed [][]*models.CanonicalRecord
	for _, b := range batches {
		records, err := p.transformer.Transform(b)
		if err != nil {
			p.logger.Warn("[pipeline] Skipping %s: %v", b.FileName, err)
			continue
		}
		transformed = append(transformed, records)
	}
	if len(transformed) == 0 {
		return models.LoadStats{}, fmt.Errorf("no raw file in %s could be transformed", p.cfg.RawDir)
	}

	merged := p.merger.Merge(transformed...)
	path := filepath.Join(p.cfg.StagingDir, storage.StagingFileName)
	if err := storage.WriteStagingCSV(path, merged); err != nil {
		return models.LoadStats{}, err
	}
	p.logger.Info("[pipeline] Wrote %d staging rows to %s", len(merged), path)
	return models.LoadStats{}, nil
}

func (p *Pipeline) load(ctx context.Context) (models.LoadStats, error) {
	files, err := storage.ListFiles(p.cfg.StagingDir, stagingFilePattern)
	if err != nil {
		return models.LoadStats{}, err
	}
	if len(files) == 0 {
		return models.LoadStats{}, fmt.Errorf("%w: no staging files in %s", storage.ErrEmptyImport, p.cfg.StagingDir)
	}

	var batches [][]*models.CanonicalRecord
	for _, f := range files {
		records, err := storage.ReadStagingCSV(f)
		if err != nil {
			p.logger.Warn("[pipeline] Skipping %s: %v", filepath.Base(f), err)
			continue
		}
		batches = append(batches, records)
	}

	return p.store.Load(ctx, p.merger.Merge(batches...))
}

func (p *Pipeline) report(ctx context.Context) (models.LoadStats, error) {
	if err := p.store.EnsureTable(ctx); err != nil {
		return models.LoadStats{}, err
	}
	rows, err := p.store.FetchAll(ctx)
	if err != nil {
		return models.LoadStats{}, err
	}
	p.insights.Print(p.out, p.insights.Generate(rows))
	return models.LoadStats{}, nil
}

// readRawBatches reads every raw batch file. Unreadable files are logged and
// skipped; finding no file at all is an error.
func (p *Pipeline) readRawBatches() ([]*models.RawBatch, error) {
	files, err := storage.ListFiles(p.cfg.RawDir, rawFilePattern)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no raw files matching %s in %s", rawFilePattern, p.cfg.RawDir)
	}

	batches := make([]*models.RawBatch, 0, len(files))
	for _, f := range files {
		b, err := storage.ReadRawFile(f)
		if err != nil {
			p.logger.Warn("[pipeline] Skipping %s: %v", filepath.Base(f), err)
			continue
		}
		batches = append(batches, b)
	}
	return batches, nil
}
