package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"iproperty-etl/api"
	"iproperty-etl/config"
	"iproperty-etl/pipeline"
	"iproperty-etl/utils"
)

const stageServe = "serve"

const usage = `usage: iproperty-etl <stage>

stages:
  extract    scrape listing pages into raw batch files
  land       copy raw batch files into the raw table (RAW_LANDING=true)
  transform  clean and merge raw files into the staging CSV
  load       upsert the staging CSV into the staging table
  report     print insights over the staging table
  all        run every stage in order
  serve      run the scheduler and the status API`

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	stage := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := utils.NewStageLogger(stage, cfg.LogDir, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("=== iproperty ETL starting: %s ===", stage)
	logger.Info("Config: driver: %s | raw: %s | staging: %s | commit: %s",
		cfg.DBDriver, cfg.RawDir, cfg.StagingDir, cfg.CommitPolicy)

	if err := run(ctx, stage, cfg, logger); err != nil {
		logger.Error("%s failed: %v", stage, err)
		logger.Close()
		os.Exit(1)
	}
	logger.Info("=== %s done ===", stage)
}

func run(ctx context.Context, stage string, cfg *config.Config, logger *utils.Logger) error {
	p, closeAll, err := pipeline.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAll()

	if stage != stageServe {
		return p.Run(ctx, stage)
	}

	if err := p.Store().EnsureTable(ctx); err != nil {
		return err
	}
	if err := p.Runs().EnsureTable(ctx); err != nil {
		return err
	}

	// a server failure stops the scheduler too
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.NewScheduler(p, logger, pipeline.JobsFromConfig(cfg)...).Start(ctx)
	}()

	handler := api.NewRouter(api.NewHandler(p.Store(), p.Runs(), p.Insights(), logger))
	err = api.ListenAndServe(ctx, cfg.HTTPAddr, handler, logger)
	cancel()
	wg.Wait()
	return err
}
