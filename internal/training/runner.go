package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"NewsDesk/internal/artifact"
	"NewsDesk/internal/config"
)

// RunReport combines the collection and training outcomes.
type RunReport struct {
	Ran     bool
	Skipped string
	Collect CollectResult
	Train   TrainResult
}

// Runner decides when the trainer runs.
type Runner struct {
	collector *Collector
	trainer   *Trainer
	dir       *artifact.Dir
	interval  time.Duration
	enabled   bool
	now       func() time.Time
	logger    *slog.Logger
}

// NewRunner builds a runner honoring self_tuning.interval_days.
func NewRunner(cfg config.Config, collector *Collector, trainer *Trainer, dir *artifact.Dir, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	days := cfg.SelfTuning.IntervalDays
	if days <= 0 {
		days = 7
	}
	return &Runner{
		collector: collector,
		trainer:   trainer,
		dir:       dir,
		interval:  time.Duration(days) * 24 * time.Hour,
		enabled:   cfg.Features.SelfTuningEnabled,
		now:       time.Now,
		logger:    logger.With("component", "training-runner"),
	}
}

// Due reports whether the last training is older than the interval.
func (r *Runner) Due() (bool, error) {
	meta, ok, err := r.dir.Metadata()
	if err != nil {
		return false, err
	}
	if !ok || meta.Timestamp.IsZero() {
		return true, nil
	}
	return r.now().Sub(meta.Timestamp) >= r.interval, nil
}

// Run collects and trains when due, or unconditionally when force is set.
func (r *Runner) Run(ctx context.Context, force bool) (RunReport, error) {
	var report RunReport
	if !force {
		if !r.enabled {
			report.Skipped = "self_tuning_disabled"
			return report, nil
		}
		due, err := r.Due()
		if err != nil {
			return report, fmt.Errorf("check training interval: %w", err)
		}
		if !due {
			report.Skipped = "not_due"
			r.logger.Debug("training not due")
			return report, nil
		}
	}

	res, err := r.collector.Collect(ctx)
	report.Collect = res
	if err != nil {
		if errors.Is(err, ErrInsufficientData) {
			r.logger.Warn("training skipped", "reason", err)
		}
		return report, err
	}

	report.Ran = true
	train, err := r.trainer.Train(ctx, r.collector.DatasetPath())
	report.Train = train
	if err != nil {
		if errors.Is(err, artifact.ErrLocked) {
			r.logger.Warn("another trainer holds the model directory")
		}
		return report, err
	}
	return report, nil
}
