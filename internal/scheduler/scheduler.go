// Package scheduler runs the nightly full indicator recompute on a
// cron schedule.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"stockanalysis/internal/metrics"
	"stockanalysis/internal/updater"
)

// Scheduler wraps a cron runner for periodic maintenance jobs.
type Scheduler struct {
	cron   *cron.Cron
	log    *slog.Logger
	health *metrics.HealthStatus // may be nil
}

// New creates a scheduler. Specs use six fields (with seconds).
func New(logger *slog.Logger, health *metrics.HealthStatus) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		log:    logger,
		health: health,
	}
}

// ScheduleRefresh registers the full recompute sweep under the given
// cron spec.
func (s *Scheduler) ScheduleRefresh(spec string, u *updater.Updater) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		start := time.Now()
		results, err := u.RefreshAll(ctx)
		if err != nil {
			s.log.Error("scheduled refresh aborted", slog.String("err", err.Error()))
			return
		}

		var updated, failed, skipped int
		for _, r := range results {
			switch {
			case r.Error != "":
				failed++
			case r.Skipped:
				skipped++
			default:
				updated += r.UpdatedCount
			}
		}
		if s.health != nil {
			s.health.SetLastRefreshAt(time.Now())
		}
		s.log.Info("scheduled refresh complete",
			slog.Int("stocks", len(results)),
			slog.Int("bars_updated", updated),
			slog.Int("failed", failed),
			slog.Int("skipped", skipped),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
	return err
}

// Start launches the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}
