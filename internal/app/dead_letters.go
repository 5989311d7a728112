package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/solarpay/compliance-service/internal/domain"
)

const (
	defaultRedriveBatchSize = 50
	defaultStaleProcessing  = 2 * time.Minute
)

// RedriveResult summarizes one redrive pass.
type RedriveResult struct {
	Claimed   int `json:"claimed"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// DeadLetterRedriver republishes events that exhausted their in-process retries.
type DeadLetterRedriver struct {
	repo                DeadLetterRepository
	publisher           EventPublisher
	logger              *slog.Logger
	metrics             *Metrics
	batchSize           int
	staleProcessingTime time.Duration
}

func NewDeadLetterRedriver(repo DeadLetterRepository, publisher EventPublisher, logger *slog.Logger, metrics *Metrics) *DeadLetterRedriver {
	return &DeadLetterRedriver{
		repo:                repo,
		publisher:           publisher,
		logger:              logger,
		metrics:             metrics,
		batchSize:           defaultRedriveBatchSize,
		staleProcessingTime: defaultStaleProcessing,
	}
}

// Redrive claims one batch of due dead letters and republishes them.
func (d *DeadLetterRedriver) Redrive(ctx context.Context) (*RedriveResult, error) {
	messages, err := d.repo.ClaimDeadLetters(ctx, d.batchSize, d.staleProcessingTime)
	if err != nil {
		return nil, err
	}
	result := &RedriveResult{Claimed: len(messages)}

	for _, message := range messages {
		if err := d.publishMessage(ctx, message); err != nil {
			result.Failed++
			retryAfter := retryDelaySeconds(message.Attempts)
			d.logger.Warn("dead letter redrive failed",
				"event_id", message.EventID,
				"attempts", message.Attempts,
				"retry_after_seconds", retryAfter,
				"error", err,
			)
			if markErr := d.repo.MarkDeadLetterFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
				d.logger.Error("failed to reschedule dead letter", "event_id", message.EventID, "error", markErr)
			}
			continue
		}
		result.Delivered++
		d.metrics.EventOutcome(domain.PaymentEventType(message.RoutingKey), "redriven")
		if err := d.repo.MarkDeadLetterDelivered(ctx, message.ID); err != nil {
			d.logger.Error("failed to mark dead letter as delivered", "event_id", message.EventID, "error", err)
		}
	}

	if result.Claimed > 0 {
		d.logger.Info("dead letter redrive finished", "claimed", result.Claimed, "delivered", result.Delivered, "failed", result.Failed)
	}
	return result, nil
}

func (d *DeadLetterRedriver) publishMessage(ctx context.Context, message domain.DeadLetterEvent) error {
	// Decoding restores the partition key for brokers that use one.
	var event domain.PaymentEvent
	if err := json.Unmarshal(message.Payload, &event); err == nil && event.EventID != "" {
		return d.publisher.Publish(ctx, message.Exchange, message.RoutingKey, event)
	}
	return d.publisher.Publish(ctx, message.Exchange, message.RoutingKey, message.Payload)
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}
