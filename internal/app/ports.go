/**
 * @description
 * Ports used by the payment compliance services. The pgx repository in
 * internal/store satisfies every repository interface here.
 */
package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solarpay/compliance-service/internal/domain"
	"github.com/solarpay/compliance-service/internal/store"
)

// Clock returns the current time. Every time decision goes through it.
type Clock func() time.Time

// PaymentRepository defines payment persistence.
type PaymentRepository interface {
	GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error)
	ListPayments(ctx context.Context, filter store.PaymentFilter) ([]domain.Payment, error)
	CountPayments(ctx context.Context, filter store.PaymentFilter) (int, error)
	TransitionPaymentStatus(ctx context.Context, paymentID string, from, to domain.PaymentStatus, reason string, at time.Time) (bool, error)
	UpdateDaysOverdue(ctx context.Context, paymentID string, days int) error
	RecordPayment(ctx context.Context, rec store.RecordedPayment) (*domain.Payment, error)
	CreatePayment(ctx context.Context, p domain.Payment) (*domain.Payment, error)
}

// ReminderRepository defines reminder persistence.
type ReminderRepository interface {
	HasReminderSince(ctx context.Context, paymentID string, reminderType domain.ReminderType, since time.Time) (bool, error)
	ClaimReminders(ctx context.Context, rems []domain.PaymentReminder, since time.Time) ([]domain.PaymentReminder, error)
	MarkReminderSent(ctx context.Context, reminderID string) error
	MarkReminderFailed(ctx context.Context, reminderID string, reason string) error
	ReleaseStaleReminders(ctx context.Context, claimedBefore time.Time, reason string) (int, error)
	ListRetryableReminders(ctx context.Context, maxRetries int) ([]domain.PaymentReminder, error)
	ClaimReminderRetry(ctx context.Context, reminderID string, maxRetries int, at time.Time) (*domain.PaymentReminder, error)
	ListRemindersByPayment(ctx context.Context, paymentID string) ([]domain.PaymentReminder, error)
}

// ContactRepository resolves reminder recipients.
type ContactRepository interface {
	GetCustomerContact(ctx context.Context, installationID string) (*domain.CustomerContact, error)
}

// PolicyRepository defines policy persistence.
type PolicyRepository interface {
	LatestGracePeriodConfig(ctx context.Context) (*domain.GracePeriodConfig, error)
	EnsureGracePeriodConfig(ctx context.Context, def domain.GracePeriodConfig) (*domain.GracePeriodConfig, error)
	UpdateGracePeriodConfig(ctx context.Context, cfg domain.GracePeriodConfig) (*domain.GracePeriodConfig, error)
	LatestReminderConfig(ctx context.Context) (*domain.ReminderConfig, error)
	EnsureReminderConfig(ctx context.Context, def domain.ReminderConfig) (*domain.ReminderConfig, error)
	UpdateReminderConfig(ctx context.Context, cfg domain.ReminderConfig) (*domain.ReminderConfig, error)
}

// PlanRepository defines payment plan persistence.
type PlanRepository interface {
	GetPaymentPlan(ctx context.Context, planID string) (*domain.PaymentPlan, error)
	ApplyPaymentToPlan(ctx context.Context, planID string, amount decimal.Decimal) (*domain.PaymentPlan, error)
	SetPlanRemaining(ctx context.Context, planID string, remaining decimal.Decimal) (*domain.PaymentPlan, error)
	SetPlanStatus(ctx context.Context, planID string, status domain.PaymentPlanStatus) (*domain.PaymentPlan, error)
	SumRecordedAmount(ctx context.Context, planID string) (decimal.Decimal, error)
}

// DeadLetterRepository stores events whose publication was exhausted.
type DeadLetterRepository interface {
	SaveDeadLetter(ctx context.Context, ev domain.DeadLetterEvent) error
	ClaimDeadLetters(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.DeadLetterEvent, error)
	MarkDeadLetterDelivered(ctx context.Context, id int64) error
	MarkDeadLetterFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
}

// Notifier delivers a fully formed message through email or SMS.
type Notifier interface {
	Send(ctx context.Context, n domain.Notification) error
}

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// DeliveryBudget limits how many reminders one recipient receives per window.
type DeliveryBudget interface {
	Allow(ctx context.Context, recipient string) (bool, error)
}

// PolicyStore exposes the current policies to the lifecycle engine and reminder jobs.
type PolicyStore interface {
	CurrentGracePeriodConfig(ctx context.Context) (domain.GracePeriodConfig, error)
	CurrentReminderConfig(ctx context.Context) (domain.ReminderConfig, error)
}

// ReminderSender is the part of the reminder dispatcher used by the lifecycle engine.
type ReminderSender interface {
	Send(ctx context.Context, payment domain.Payment, reminderType domain.ReminderType) (ReminderOutcome, error)
	HasRecentReminderOfType(ctx context.Context, paymentID string, reminderType domain.ReminderType) (bool, error)
}

// LifecycleEventPublisher is the part of the event publisher used by the lifecycle engine.
type LifecycleEventPublisher interface {
	PublishGracePeriodExpired(ctx context.Context, payment domain.Payment) PublishResult
}

func systemClock() time.Time {
	return time.Now()
}
