package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"NewsDesk/internal/config"
	"NewsDesk/internal/infrastructure/scheduler"
	"NewsDesk/internal/training"
)

// Job names registered by the Scheduler.
const (
	JobIngest        = "ingest"
	JobPosting       = "posting"
	JobReviewCleanup = "review_cleanup"
	JobTraining      = "training"
)

// JobDriver is the cron-like backend.
type JobDriver interface {
	Add(name, spec string, job scheduler.Job) error
	Start()
	Stop(ctx context.Context) error
}

// TrainingRunner runs the self-tuning loop when due.
type TrainingRunner interface {
	Run(ctx context.Context, force bool) (training.RunReport, error)
}

// Scheduler wires the cron driver with the use cases.
type Scheduler struct {
	cfg      config.Config
	driver   JobDriver
	pipeline *Pipeline
	cycle    *PostingCycle
	trainer  TrainingRunner
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring jobs. Any use case
// may be nil.
func NewScheduler(cfg config.Config, driver JobDriver, pipeline *Pipeline, cycle *PostingCycle, trainer TrainingRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		driver:   driver,
		pipeline: pipeline,
		cycle:    cycle,
		trainer:  trainer,
		logger:   logger.With("component", "jobs"),
	}
}

// Start registers every configured job and starts the driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	for _, spec := range []string{s.cfg.Scheduler.CronExpression, s.cfg.SelfTuning.CronExpression} {
		if spec == "" {
			continue
		}
		if err := scheduler.ValidateSpec(spec); err != nil {
			return err
		}
	}

	if s.pipeline != nil && s.cfg.Scheduler.CronExpression != "" {
		if err := s.driver.Add(JobIngest, s.cfg.Scheduler.CronExpression, s.ingest); err != nil {
			return err
		}
	}
	if s.cycle != nil && s.cycle.Enabled() {
		interval := s.cfg.Autopublish.IntervalMinutes
		if interval <= 0 {
			interval = 30
		}
		if err := s.driver.Add(JobPosting, fmt.Sprintf("@every %dm", interval), s.post); err != nil {
			return err
		}
		if err := s.driver.Add(JobReviewCleanup, "@every 1m", s.cleanup); err != nil {
			return err
		}
	}
	if s.trainer != nil && s.cfg.SelfTuning.CronExpression != "" {
		if err := s.driver.Add(JobTraining, s.cfg.SelfTuning.CronExpression, s.train); err != nil {
			return err
		}
	}

	s.driver.Start()
	s.logger.Info("scheduler started")
	return nil
}

// Stop gracefully tears down the underlying driver.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}

func (s *Scheduler) ingest(ctx context.Context, trigger time.Time) {
	if _, err := s.pipeline.ProcessDay(ctx, trigger); err != nil {
		s.logger.Error("ingest job failed", "error", err)
	}
}

func (s *Scheduler) post(ctx context.Context, trigger time.Time) {
	if _, err := s.cycle.Run(ctx, trigger); err != nil {
		s.logger.Error("posting job failed", "error", err)
	}
}

func (s *Scheduler) cleanup(ctx context.Context, _ time.Time) {
	s.cycle.CleanupReviews(ctx)
}

func (s *Scheduler) train(ctx context.Context, _ time.Time) {
	report, err := s.trainer.Run(ctx, false)
	if err != nil {
		s.logger.Error("training job failed", "error", err)
		return
	}
	if report.Skipped != "" {
		s.logger.Debug("training skipped", "reason", report.Skipped)
	}
}
