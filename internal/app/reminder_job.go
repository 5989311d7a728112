package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/solarpay/compliance-service/internal/domain"
	"github.com/solarpay/compliance-service/internal/store"
)

// DispatchResult summarizes one run of the standing reminder job.
type DispatchResult struct {
	Evaluated  int          `json:"evaluated"`
	Sent       int          `json:"sent"`
	Suppressed int          `json:"suppressed"`
	Throttled  int          `json:"throttled"`
	Failed     int          `json:"failed"`
	Skipped    bool         `json:"skipped"`
	Retry      *RetryResult `json:"retry,omitempty"`
}

// ReminderDispatchJob re-sends reminders for payments that sit in a status,
// most severe first, then retries failed deliveries.
type ReminderDispatchJob struct {
	payments   PaymentRepository
	dispatcher *ReminderDispatcher
	policies   PolicyStore
	logger     *slog.Logger
	now        Clock
	loc        *time.Location
}

// NewReminderDispatchJob creates a new ReminderDispatchJob.
func NewReminderDispatchJob(payments PaymentRepository, dispatcher *ReminderDispatcher, policies PolicyStore, logger *slog.Logger, now Clock, loc *time.Location) *ReminderDispatchJob {
	if now == nil {
		now = systemClock
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ReminderDispatchJob{
		payments:   payments,
		dispatcher: dispatcher,
		policies:   policies,
		logger:     logger,
		now:        now,
		loc:        loc,
	}
}

type standingReminder struct {
	reminderType domain.ReminderType
	filter       store.PaymentFilter
}

// standingReminders lists the passes in severity order.
func (j *ReminderDispatchJob) standingReminders() []standingReminder {
	startOfToday := domain.StartOfDay(j.now(), j.loc)
	endOfToday := startOfToday.AddDate(0, 0, 1)
	byStatus := func(s domain.PaymentStatus) store.PaymentFilter {
		return store.PaymentFilter{Statuses: []domain.PaymentStatus{s}}
	}
	dueToday := byStatus(domain.PaymentStatusDueToday)
	dueToday.DueFrom = &startOfToday
	dueToday.DueBefore = &endOfToday

	return []standingReminder{
		{reminderType: domain.ReminderFinalWarning, filter: byStatus(domain.PaymentStatusSuspensionPending)},
		{reminderType: domain.ReminderGracePeriod, filter: byStatus(domain.PaymentStatusGracePeriod)},
		{reminderType: domain.ReminderOverdue, filter: byStatus(domain.PaymentStatusOverdue)},
		{reminderType: domain.ReminderDueToday, filter: dueToday},
		{reminderType: domain.ReminderUpcomingPayment, filter: byStatus(domain.PaymentStatusUpcoming)},
	}
}

// DispatchReminders runs all standing reminder passes and the failed reminder retry.
func (j *ReminderDispatchJob) DispatchReminders(ctx context.Context) (*DispatchResult, error) {
	j.logger.Info("starting reminder dispatch job")
	result := &DispatchResult{}

	policy, err := j.policies.CurrentReminderConfig(ctx)
	if err != nil {
		return nil, err
	}

	if policy.AutoSendReminders {
		for _, pass := range j.standingReminders() {
			j.dispatchPass(ctx, pass, result)
		}
	} else {
		j.logger.Info("automatic reminders disabled, skipping standing reminders")
		result.Skipped = true
	}

	retry, err := j.dispatcher.ProcessFailedReminders(ctx)
	if err != nil {
		return result, err
	}
	result.Retry = retry

	j.logger.Info("completed reminder dispatch job",
		"evaluated", result.Evaluated,
		"sent", result.Sent,
		"suppressed", result.Suppressed,
		"throttled", result.Throttled,
		"failed", result.Failed,
	)
	return result, nil
}

func (j *ReminderDispatchJob) dispatchPass(ctx context.Context, pass standingReminder, result *DispatchResult) {
	log := j.logger.With("reminder_type", string(pass.reminderType))
	log.Info("dispatching standing reminders")

	payments, err := j.payments.ListPayments(ctx, pass.filter)
	if err != nil {
		log.Error("failed to load payments for reminders", "error", err)
		result.Failed++
		return
	}

	for _, payment := range payments {
		result.Evaluated++
		recent, err := j.dispatcher.HasRecentReminderOfType(ctx, payment.ID, pass.reminderType)
		if err != nil {
			log.Error("failed to check reminder cooldown", "payment_id", payment.ID, "error", err)
			result.Failed++
			continue
		}
		if recent {
			result.Suppressed++
			continue
		}

		outcome, err := j.dispatcher.Send(ctx, payment, pass.reminderType)
		if err != nil {
			log.Error("failed to send reminder", "payment_id", payment.ID, "error", err)
			result.Failed++
			continue
		}
		switch outcome {
		case ReminderSent:
			result.Sent++
		case ReminderSuppressed:
			result.Suppressed++
		case ReminderThrottled:
			result.Throttled++
		case ReminderFailed:
			result.Failed++
		}
	}
}
