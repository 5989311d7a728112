/**
 * @description
 * PaymentEventPublisher emits payment events for the service control module.
 * Publication is best effort: a bounded retry runs in process, and an event
 * that still fails is written to the dead letter table for later redrive.
 * Callers learn the outcome from PublishResult and never receive an error.
 */
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/solarpay/compliance-service/internal/domain"
)

const (
	DefaultEventExchange        = "solar.payment_events"
	defaultPublishMaxAttempts   = 3
	defaultPublishInitialDelay  = 200 * time.Millisecond
	defaultPublishMaxRetryDelay = 2 * time.Second
)

// PublishResult reports how far a publication got.
type PublishResult struct {
	EventID      string `json:"event_id"`
	Delivered    bool   `json:"delivered"`
	Attempts     int    `json:"attempts"`
	DeadLettered bool   `json:"dead_lettered"`
	Err          error  `json:"-"`
}

// EventPublisherOptions tunes a PaymentEventPublisher. Zero values take defaults.
type EventPublisherOptions struct {
	Exchange     string
	MaxAttempts  int
	InitialDelay time.Duration
	Now          Clock
	Metrics      *Metrics
}

// PaymentEventPublisher publishes payment events through an EventPublisher.
type PaymentEventPublisher struct {
	publisher    EventPublisher
	deadLetters  DeadLetterRepository
	logger       *slog.Logger
	metrics      *Metrics
	now          Clock
	exchange     string
	maxAttempts  int
	initialDelay time.Duration
}

// NewPaymentEventPublisher creates a new PaymentEventPublisher. deadLetters may be nil.
func NewPaymentEventPublisher(publisher EventPublisher, deadLetters DeadLetterRepository, logger *slog.Logger, opts EventPublisherOptions) *PaymentEventPublisher {
	p := &PaymentEventPublisher{
		publisher:    publisher,
		deadLetters:  deadLetters,
		logger:       logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
		exchange:     opts.Exchange,
		maxAttempts:  opts.MaxAttempts,
		initialDelay: opts.InitialDelay,
	}
	if p.now == nil {
		p.now = systemClock
	}
	if p.exchange == "" {
		p.exchange = DefaultEventExchange
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = defaultPublishMaxAttempts
	}
	if p.initialDelay <= 0 {
		p.initialDelay = defaultPublishInitialDelay
	}
	return p
}

// PublishPaymentReceived announces that a payment was recorded, so a
// suspended installation can be restored.
func (p *PaymentEventPublisher) PublishPaymentReceived(ctx context.Context, payment domain.Payment) PublishResult {
	return p.publish(ctx, domain.PaymentEvent{
		Type:           domain.EventPaymentReceived,
		InstallationID: payment.InstallationID,
		PaymentID:      payment.ID,
		PaymentPlanID:  payment.PaymentPlanID,
	})
}

// PublishGracePeriodExpired announces that a payment is awaiting service suspension.
func (p *PaymentEventPublisher) PublishGracePeriodExpired(ctx context.Context, payment domain.Payment) PublishResult {
	return p.publish(ctx, domain.PaymentEvent{
		Type:           domain.EventGracePeriodExpired,
		InstallationID: payment.InstallationID,
		PaymentID:      payment.ID,
		PaymentPlanID:  payment.PaymentPlanID,
	})
}

// PublishPlanUpdated announces a change to a payment plan.
func (p *PaymentEventPublisher) PublishPlanUpdated(ctx context.Context, plan domain.PaymentPlan) PublishResult {
	return p.publish(ctx, domain.PaymentEvent{
		Type:           domain.EventPaymentPlanUpdated,
		InstallationID: plan.InstallationID,
		PaymentPlanID:  plan.ID,
	})
}

// ConfirmServiceControlAction is the acknowledgement hook for service control
// actions. Service control does not acknowledge yet, so it always confirms.
func (p *PaymentEventPublisher) ConfirmServiceControlAction(ctx context.Context, installationID, action string) bool {
	p.logger.Info("service control action confirmed", "installation_id", installationID, "action", action)
	return true
}

func (p *PaymentEventPublisher) publish(ctx context.Context, event domain.PaymentEvent) PublishResult {
	event.EventID = uuid.NewString()
	event.OccurredAt = p.now().UTC()
	result := PublishResult{EventID: event.EventID}
	log := p.logger.With(
		"event_id", event.EventID,
		"event_type", string(event.Type),
		"installation_id", event.InstallationID,
	)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.initialDelay
	policy.MaxInterval = defaultPublishMaxRetryDelay
	policy.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		result.Attempts++
		return p.tryPublish(ctx, event)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(p.maxAttempts-1)), ctx))
	if err == nil {
		result.Delivered = true
		p.metrics.EventOutcome(event.Type, "delivered")
		log.Info("payment event published", "attempts", result.Attempts)
		return result
	}

	result.Err = err
	log.Warn("[EVENT-FALLBACK] payment event could not be published",
		"attempts", result.Attempts,
		"payment_id", event.PaymentID,
		"payment_plan_id", event.PaymentPlanID,
		"error", err,
	)

	if p.deadLetters == nil {
		p.metrics.EventOutcome(event.Type, "dropped")
		return result
	}
	payload, mErr := json.Marshal(event)
	if mErr != nil {
		log.Error("failed to encode dead letter payload", "error", mErr)
		p.metrics.EventOutcome(event.Type, "dropped")
		return result
	}
	dlErr := p.deadLetters.SaveDeadLetter(context.WithoutCancel(ctx), domain.DeadLetterEvent{
		EventID:    event.EventID,
		Exchange:   p.exchange,
		RoutingKey: string(event.Type),
		Payload:    payload,
		Attempts:   result.Attempts,
		LastError:  err.Error(),
	})
	if dlErr != nil {
		log.Error("failed to store dead letter", "error", dlErr)
		p.metrics.EventOutcome(event.Type, "dropped")
		return result
	}
	result.DeadLettered = true
	p.metrics.EventOutcome(event.Type, "dead_lettered")
	return result
}

func (p *PaymentEventPublisher) tryPublish(ctx context.Context, event domain.PaymentEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panic: %v", r)
		}
	}()
	if p.publisher == nil {
		return backoff.Permanent(fmt.Errorf("no event publisher configured"))
	}
	return p.publisher.Publish(ctx, p.exchange, string(event.Type), event)
}
