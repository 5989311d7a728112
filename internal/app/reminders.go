/**
 * @description
 * ReminderDispatcher sends payment reminders through the notification
 * collaborator and records every attempt. A reminder of a given type is sent
 * at most once per payment within the cooldown window. Delivery failures are
 * recorded on the reminder row and never returned to the caller.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/solarpay/compliance-service/internal/domain"
)

// ReminderOutcome is the result of a single send attempt.
type ReminderOutcome string

const (
	ReminderSuppressed ReminderOutcome = "suppressed"
	ReminderThrottled  ReminderOutcome = "throttled"
	ReminderSent       ReminderOutcome = "sent"
	ReminderFailed     ReminderOutcome = "failed"
)

// RetryResult summarizes one pass over failed reminders.
type RetryResult struct {
	Evaluated int `json:"evaluated"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
	Skipped   int `json:"skipped"`
	Released  int `json:"released"`
}

// ReminderDispatcherDeps groups the collaborators of a ReminderDispatcher.
type ReminderDispatcherDeps struct {
	Payments  PaymentRepository
	Reminders ReminderRepository
	Contacts  ContactRepository
	Policies  PolicyStore
	Notifier  Notifier
	// Budget is optional; nil disables per-recipient throttling.
	Budget   DeliveryBudget
	Logger   *slog.Logger
	Metrics  *Metrics
	Now      Clock
	Location *time.Location
}

// ReminderDispatcher sends and retries payment reminders.
type ReminderDispatcher struct {
	payments  PaymentRepository
	reminders ReminderRepository
	contacts  ContactRepository
	policies  PolicyStore
	notifier  Notifier
	budget    DeliveryBudget
	logger    *slog.Logger
	metrics   *Metrics
	now       Clock
	loc       *time.Location
}

// NewReminderDispatcher creates a new ReminderDispatcher.
func NewReminderDispatcher(deps ReminderDispatcherDeps) *ReminderDispatcher {
	d := &ReminderDispatcher{
		payments:  deps.Payments,
		reminders: deps.Reminders,
		contacts:  deps.Contacts,
		policies:  deps.Policies,
		notifier:  deps.Notifier,
		budget:    deps.Budget,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		now:       deps.Now,
		loc:       deps.Location,
	}
	if d.now == nil {
		d.now = systemClock
	}
	if d.loc == nil {
		d.loc = time.UTC
	}
	return d
}

// HasRecentReminderOfType reports whether a reminder of reminderType was
// recorded for the payment within the cooldown window.
func (d *ReminderDispatcher) HasRecentReminderOfType(ctx context.Context, paymentID string, reminderType domain.ReminderType) (bool, error) {
	return d.reminders.HasReminderSince(ctx, paymentID, reminderType, d.now().Add(-domain.ReminderCooldown))
}

// Send delivers a reminder for payment on each channel the reminder policy
// selects, unless the cooldown suppresses it. The returned error is reserved for lookup and persistence failures.
func (d *ReminderDispatcher) Send(ctx context.Context, payment domain.Payment, reminderType domain.ReminderType) (ReminderOutcome, error) {
	if !reminderType.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownReminderType, reminderType)
	}
	log := d.logger.With("payment_id", payment.ID, "reminder_type", string(reminderType))

	recent, err := d.HasRecentReminderOfType(ctx, payment.ID, reminderType)
	if err != nil {
		return "", fmt.Errorf("check reminder cooldown: %w", err)
	}
	if recent {
		log.Debug("reminder suppressed by cooldown")
		d.metrics.ReminderOutcome(reminderType, ReminderSuppressed)
		return ReminderSuppressed, nil
	}

	contact, err := d.contacts.GetCustomerContact(ctx, payment.InstallationID)
	if err != nil {
		return "", fmt.Errorf("resolve reminder recipient: %w", err)
	}
	policy, err := d.policies.CurrentReminderConfig(ctx)
	if err != nil {
		return "", err
	}
	targets := d.withinBudget(ctx, log, deliveryTargets(policy.ReminderMethod, *contact))
	if len(targets) == 0 {
		d.metrics.ReminderOutcome(reminderType, ReminderThrottled)
		return ReminderThrottled, nil
	}

	subject, body := RenderMessage(reminderType, payment, *contact, d.loc)
	now := d.now()
	pending := make([]domain.PaymentReminder, 0, len(targets))
	for _, t := range targets {
		pending = append(pending, domain.PaymentReminder{
			PaymentID:        payment.ID,
			ReminderType:     reminderType,
			SentDate:         now,
			DeliveryStatus:   domain.DeliveryPending,
			DeliveryChannel:  t.channel,
			RecipientAddress: t.address,
			Subject:          subject,
			MessageContent:   body,
		})
	}
	claimed, err := d.reminders.ClaimReminders(ctx, pending, now.Add(-domain.ReminderCooldown))
	if err != nil {
		return "", fmt.Errorf("record reminder: %w", err)
	}
	if len(claimed) == 0 {
		d.metrics.ReminderOutcome(reminderType, ReminderSuppressed)
		return ReminderSuppressed, nil
	}

	// One delivered channel is enough; failed ones are retried on their own.
	outcome := ReminderFailed
	for i := range claimed {
		res, err := d.complete(ctx, log, &claimed[i])
		if err != nil {
			return "", err
		}
		if res == ReminderSent {
			outcome = ReminderSent
		}
	}
	return outcome, nil
}

// withinBudget drops the targets whose recipient used up the delivery budget.
// Budget errors let the target through.
func (d *ReminderDispatcher) withinBudget(ctx context.Context, log *slog.Logger, targets []deliveryTarget) []deliveryTarget {
	if d.budget == nil {
		return targets
	}
	allowed := make([]deliveryTarget, 0, len(targets))
	for _, t := range targets {
		if t.address == "" {
			allowed = append(allowed, t)
			continue
		}
		ok, err := d.budget.Allow(ctx, t.address)
		if err != nil {
			log.Warn("delivery budget unavailable, sending anyway", "channel", t.channel, "error", err)
			allowed = append(allowed, t)
			continue
		}
		if !ok {
			log.Info("reminder throttled by delivery budget", "channel", t.channel)
			continue
		}
		allowed = append(allowed, t)
	}
	return allowed
}

// complete delivers a recorded reminder and stores the delivery status.
func (d *ReminderDispatcher) complete(ctx context.Context, log *slog.Logger, rem *domain.PaymentReminder) (ReminderOutcome, error) {
	var deliveryErr error
	if rem.RecipientAddress == "" {
		deliveryErr = fmt.Errorf("no %s address on file", rem.DeliveryChannel)
	} else {
		deliveryErr = d.deliver(ctx, domain.Notification{
			Channel:   rem.DeliveryChannel,
			Recipient: rem.RecipientAddress,
			Subject:   rem.Subject,
			Body:      rem.MessageContent,
		})
	}

	if deliveryErr != nil {
		log.Error("reminder delivery failed", "reminder_id", rem.ID, "error", deliveryErr)
		if err := d.reminders.MarkReminderFailed(ctx, rem.ID, deliveryErr.Error()); err != nil {
			return "", fmt.Errorf("record reminder failure: %w", err)
		}
		d.metrics.ReminderOutcome(rem.ReminderType, ReminderFailed)
		return ReminderFailed, nil
	}

	if err := d.reminders.MarkReminderSent(ctx, rem.ID); err != nil {
		return "", fmt.Errorf("record reminder delivery: %w", err)
	}
	log.Info("reminder sent", "reminder_id", rem.ID, "channel", rem.DeliveryChannel)
	d.metrics.ReminderOutcome(rem.ReminderType, ReminderSent)
	return ReminderSent, nil
}

func (d *ReminderDispatcher) deliver(ctx context.Context, n domain.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return d.notifier.Send(ctx, n)
}

// ProcessFailedReminders redelivers FAILED reminders that are still under the
// retry cap. Deliveries interrupted for longer than ReminderClaimTimeout are
// released as FAILED first. Each reminder is handled independently.
func (d *ReminderDispatcher) ProcessFailedReminders(ctx context.Context) (*RetryResult, error) {
	released, err := d.reminders.ReleaseStaleReminders(ctx, d.now().Add(-domain.ReminderClaimTimeout), errDeliveryInterrupted)
	if err != nil {
		return nil, fmt.Errorf("release stale reminders: %w", err)
	}
	if released > 0 {
		d.logger.Warn("released interrupted reminder deliveries", "count", released)
	}

	failed, err := d.reminders.ListRetryableReminders(ctx, domain.MaxReminderRetryAttempts)
	if err != nil {
		return nil, fmt.Errorf("list failed reminders: %w", err)
	}

	result := &RetryResult{Released: released}
	for _, rem := range failed {
		result.Evaluated++
		log := d.logger.With("reminder_id", rem.ID, "payment_id", rem.PaymentID, "reminder_type", string(rem.ReminderType))

		claimed, err := d.reminders.ClaimReminderRetry(ctx, rem.ID, domain.MaxReminderRetryAttempts, d.now())
		if err != nil {
			log.Error("failed to schedule reminder retry", "error", err)
			result.Failed++
			continue
		}
		if claimed == nil {
			result.Skipped++
			continue
		}

		outcome, err := d.complete(ctx, log, claimed)
		switch {
		case err != nil:
			log.Error("failed to record reminder retry", "error", err)
			result.Failed++
		case outcome == ReminderSent:
			result.Sent++
		case claimed.RetryCount >= domain.MaxReminderRetryAttempts:
			log.Warn("max retry attempts reached, reminder will not be retried", "retry_count", claimed.RetryCount)
			result.Exhausted++
		default:
			result.Failed++
		}
	}

	d.logger.Info("processed failed reminders",
		"evaluated", result.Evaluated,
		"sent", result.Sent,
		"failed", result.Failed,
		"exhausted", result.Exhausted,
	)
	return result, nil
}

// SendManualReminder sends a reminder requested by an administrator.
func (d *ReminderDispatcher) SendManualReminder(ctx context.Context, paymentID string, reminderType domain.ReminderType) (ReminderOutcome, error) {
	payment, err := d.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return "", err
	}
	if payment.Status == domain.PaymentStatusPaid {
		return "", domain.ErrPaymentAlreadyPaid
	}
	return d.Send(ctx, *payment, reminderType)
}

// ListReminders returns the reminder history of a payment.
func (d *ReminderDispatcher) ListReminders(ctx context.Context, paymentID string) ([]domain.PaymentReminder, error) {
	if _, err := d.payments.GetPayment(ctx, paymentID); err != nil {
		return nil, err
	}
	return d.reminders.ListRemindersByPayment(ctx, paymentID)
}

type deliveryTarget struct {
	channel string
	address string
}

// deliveryTargets resolves where a reminder goes. BOTH targets email and SMS
// when both are on file and otherwise falls back like a single channel.
func deliveryTargets(method string, c domain.CustomerContact) []deliveryTarget {
	if method == domain.ReminderMethodBoth && c.Email != "" && c.Phone != "" {
		return []deliveryTarget{
			{channel: domain.ChannelEmail, address: c.Email},
			{channel: domain.ChannelSMS, address: c.Phone},
		}
	}
	channel, address := selectChannel(method, c)
	return []deliveryTarget{{channel: channel, address: address}}
}

// selectChannel picks the delivery channel and address for a reminder method.
// SMS falls back to email when no phone number is on file, and the reverse.
func selectChannel(method string, c domain.CustomerContact) (string, string) {
	if method == domain.ReminderMethodSMS && c.Phone != "" {
		return domain.ChannelSMS, c.Phone
	}
	if c.Email != "" {
		return domain.ChannelEmail, c.Email
	}
	if c.Phone != "" {
		return domain.ChannelSMS, c.Phone
	}
	return domain.ChannelEmail, ""
}

const errDeliveryInterrupted = "delivery interrupted before its status was recorded"

// ErrUnknownReminderType is returned for reminder types outside the known set.
var ErrUnknownReminderType = errors.New("unknown reminder type")

// ParseReminderType validates a reminder type string.
func ParseReminderType(raw string) (domain.ReminderType, error) {
	t := domain.ReminderType(raw)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownReminderType, raw)
	}
	return t, nil
}
