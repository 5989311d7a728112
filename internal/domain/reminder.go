package domain

import "time"

// ReminderType identifies the notice sent for a payment.
type ReminderType string

const (
	ReminderUpcomingPayment ReminderType = "UPCOMING_PAYMENT"
	ReminderDueToday        ReminderType = "DUE_TODAY"
	ReminderOverdue         ReminderType = "OVERDUE"
	ReminderGracePeriod     ReminderType = "GRACE_PERIOD"
	ReminderFinalWarning    ReminderType = "FINAL_WARNING"
)

// Severity ranks reminder types; higher is more urgent.
func (t ReminderType) Severity() int {
	switch t {
	case ReminderFinalWarning:
		return 5
	case ReminderGracePeriod:
		return 4
	case ReminderOverdue:
		return 3
	case ReminderDueToday:
		return 2
	case ReminderUpcomingPayment:
		return 1
	}
	return 0
}

// Valid reports whether t is a known reminder type.
func (t ReminderType) Valid() bool {
	return t.Severity() > 0
}

// DeliveryStatus is the delivery outcome of a reminder.
type DeliveryStatus string

const (
	DeliveryPending        DeliveryStatus = "PENDING"
	DeliverySent           DeliveryStatus = "SENT"
	DeliveryFailed         DeliveryStatus = "FAILED"
	DeliveryRetryScheduled DeliveryStatus = "RETRY_SCHEDULED"
)

const (
	// ReminderCooldown is the minimum gap between two reminders of the same
	// type for the same payment.
	ReminderCooldown = 24 * time.Hour
	// MaxReminderRetryAttempts bounds redelivery of failed reminders.
	MaxReminderRetryAttempts = 3
	// ReminderClaimTimeout is how long a reminder may stay PENDING or
	// RETRY_SCHEDULED before it is treated as an interrupted delivery.
	ReminderClaimTimeout = 15 * time.Minute
)

// Delivery channels.
const (
	ChannelEmail = "EMAIL"
	ChannelSMS   = "SMS"
)

// PaymentReminder records one reminder attempt.
type PaymentReminder struct {
	ID               string         `json:"id"`
	PaymentID        string         `json:"payment_id"`
	ReminderType     ReminderType   `json:"reminder_type"`
	SentDate         time.Time      `json:"sent_date"`
	DeliveryStatus   DeliveryStatus `json:"delivery_status"`
	DeliveryChannel  string         `json:"delivery_channel"`
	RecipientAddress string         `json:"recipient_address"`
	Subject          string         `json:"subject"`
	MessageContent   string         `json:"message_content"`
	RetryCount       int            `json:"retry_count"`
	LastRetryDate    *time.Time     `json:"last_retry_date,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
}

// Notification is a fully formed message handed to the notification transport.
type Notification struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}
