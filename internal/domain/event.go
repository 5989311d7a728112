package domain

import (
	"encoding/json"
	"time"
)

// PaymentEventType is the routing key of an event sent to service control.
type PaymentEventType string

const (
	EventPaymentReceived    PaymentEventType = "payment.received"
	EventGracePeriodExpired PaymentEventType = "payment.grace_period_expired"
	EventPaymentPlanUpdated PaymentEventType = "payment_plan.updated"
)

// PaymentEvent is an immutable notification for the service control module.
type PaymentEvent struct {
	EventID        string           `json:"event_id"`
	Type           PaymentEventType `json:"type"`
	InstallationID string           `json:"installation_id"`
	PaymentID      string           `json:"payment_id,omitempty"`
	PaymentPlanID  string           `json:"payment_plan_id,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// PartitionKey keeps events of one installation ordered on partitioned brokers.
func (e PaymentEvent) PartitionKey() string {
	return e.InstallationID
}

// DeadLetterEvent is an event whose publication was exhausted and awaits redrive.
type DeadLetterEvent struct {
	ID          int64           `json:"id"`
	EventID     string          `json:"event_id"`
	Exchange    string          `json:"exchange"`
	RoutingKey  string          `json:"routing_key"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error"`
	CreatedAt   time.Time       `json:"created_at"`
	NextAttempt time.Time       `json:"next_attempt_at"`
}
