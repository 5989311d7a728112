/**
 * @description
 * Scheduled job implementations for the payment compliance service.
 */
package app

import (
	"context"
	"log/slog"
	"time"
)

// Job names used in logs and metrics.
const (
	JobLifecycle = "payment_lifecycle"
	JobReminders = "reminder_dispatch"
	JobRedrive   = "event_redrive"
)

// CycleRunner runs the daily lifecycle cycle.
type CycleRunner interface {
	RunDailyCycle(ctx context.Context) (*CycleResult, error)
}

// ReminderJobRunner runs the standing reminder pass.
type ReminderJobRunner interface {
	DispatchReminders(ctx context.Context) (*DispatchResult, error)
}

// EventRedriver republishes dead-lettered events.
type EventRedriver interface {
	Redrive(ctx context.Context) (*RedriveResult, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	lifecycle CycleRunner
	reminders ReminderJobRunner
	redriver  EventRedriver
	logger    *slog.Logger
	metrics   *Metrics
}

// NewJobs creates a new Jobs runner.
func NewJobs(lifecycle CycleRunner, reminders ReminderJobRunner, redriver EventRedriver, logger *slog.Logger, metrics *Metrics) *Jobs {
	return &Jobs{
		lifecycle: lifecycle,
		reminders: reminders,
		redriver:  redriver,
		logger:    logger,
		metrics:   metrics,
	}
}

// RunLifecycleCycle runs the midnight payment status cycle.
func (j *Jobs) RunLifecycleCycle() {
	j.logger.Info("starting payment lifecycle job")
	ctx := context.Background()
	started := time.Now()
	defer j.metrics.ObserveJob(JobLifecycle, started)

	if _, err := j.lifecycle.RunDailyCycle(ctx); err != nil {
		j.logger.Error("payment lifecycle job failed", "error", err)
		return
	}

	j.logger.Info("payment lifecycle job finished")
}

// DispatchReminders runs the morning reminder dispatch.
func (j *Jobs) DispatchReminders() {
	j.logger.Info("starting reminder dispatch job")
	ctx := context.Background()
	started := time.Now()
	defer j.metrics.ObserveJob(JobReminders, started)

	if _, err := j.reminders.DispatchReminders(ctx); err != nil {
		j.logger.Error("reminder dispatch job failed", "error", err)
		return
	}

	j.logger.Info("reminder dispatch job finished")
}

// RedriveEvents republishes dead-lettered payment events.
func (j *Jobs) RedriveEvents() {
	ctx := context.Background()
	started := time.Now()
	defer j.metrics.ObserveJob(JobRedrive, started)

	result, err := j.redriver.Redrive(ctx)
	if err != nil {
		j.logger.Error("event redrive job failed", "error", err)
		return
	}
	if result.Claimed > 0 {
		j.logger.Info("event redrive job finished", "claimed", result.Claimed, "delivered", result.Delivered)
	}
}
