package pipeline

import (
	"context"
	"sync"
	"time"

	"iproperty-etl/config"
	"iproperty-etl/utils"
)

// Runner runs one pipeline stage.
type Runner interface {
	Run(ctx context.Context, stage string) error
}

// Job runs Stage every Every.
type Job struct {
	Stage string
	Every time.Duration
}

// JobsFromConfig returns the scheduled stages. A zero interval disables a
// stage.
func JobsFromConfig(cfg *config.Config) []Job {
	return []Job{
		{Stage: StageExtract, Every: cfg.ExtractEvery},
		{Stage: StageTransform, Every: cfg.TransformEvery},
		{Stage: StageLoad, Every: cfg.LoadEvery},
	}
}

// Scheduler runs each job on its own ticker. Runs of the same stage never
// overlap: ticks that fire while a run is in progress are dropped.
type Scheduler struct {
	runner Runner
	logger *utils.Logger
	jobs   []Job
}

func NewScheduler(runner Runner, logger *utils.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{runner: runner, logger: logger, jobs: jobs}
}

// Start blocks until ctx is cancelled and every in-flight run has returned.
// A failed run is logged; the next tick tries again.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		if job.Every <= 0 {
			s.logger.Info("[scheduler] %s is not scheduled", job.Stage)
			continue
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	wg.Wait()
	s.logger.Info("[scheduler] Stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	s.logger.Info("[scheduler] %s every %v", job.Stage, job.Every)
	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.runner.Run(ctx, job.Stage); err != nil {
				s.logger.Warn("[scheduler] %s run failed, retrying in %v: %v", job.Stage, job.Every, err)
			}
		}
	}
}
