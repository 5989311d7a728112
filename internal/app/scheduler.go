/**
 * @description
 * Cron scheduler setup for the lifecycle, reminder and redrive jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/solarpay/compliance-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance. Schedules are evaluated in
// the business timezone, and a run still in progress makes the next one skip.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLocation(cfg.Location()),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.LifecycleJobSchedule, s.jobs.RunLifecycleCycle); err != nil {
		s.logger.Error("failed to schedule payment lifecycle job", "error", err)
	} else {
		s.logger.Info("scheduled payment lifecycle job", "schedule", s.config.LifecycleJobSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.ReminderJobSchedule, s.jobs.DispatchReminders); err != nil {
		s.logger.Error("failed to schedule reminder dispatch job", "error", err)
	} else {
		s.logger.Info("scheduled reminder dispatch job", "schedule", s.config.ReminderJobSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.EventRedriveSchedule, s.jobs.RedriveEvents); err != nil {
		s.logger.Error("failed to schedule event redrive job", "error", err)
	} else {
		s.logger.Info("scheduled event redrive job", "schedule", s.config.EventRedriveSchedule)
	}

	s.cron.Start()
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
