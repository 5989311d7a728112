/**
 * @description
 * Payment installment model and its delinquency lifecycle statuses.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a single installment.
type PaymentStatus string

const (
	PaymentStatusScheduled         PaymentStatus = "SCHEDULED"
	PaymentStatusUpcoming          PaymentStatus = "UPCOMING"
	PaymentStatusDueToday          PaymentStatus = "DUE_TODAY"
	PaymentStatusOverdue           PaymentStatus = "OVERDUE"
	PaymentStatusGracePeriod       PaymentStatus = "GRACE_PERIOD"
	PaymentStatusSuspensionPending PaymentStatus = "SUSPENSION_PENDING"
	PaymentStatusPaid              PaymentStatus = "PAID"
	PaymentStatusPartiallyPaid     PaymentStatus = "PARTIALLY_PAID"
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusCancelled         PaymentStatus = "CANCELLED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
)

// Status reasons written by the lifecycle engine and the payment recording path.
const (
	ReasonWithinReminderWindow = "Payment due date is within reminder window"
	ReasonDueToday             = "Payment due today"
	ReasonDatePassed           = "Payment date has passed without payment"
	ReasonGracePeriod          = "Payment is now in grace period"
	ReasonGraceExpired         = "Grace period expired, awaiting service suspension"
	ReasonPaidInFull           = "Payment received in full"
	ReasonPartiallyPaid        = "Partial payment received"
	ReasonNextInstallment      = "Next installment scheduled"
	ReasonCatchUp              = "Due date passed before the lifecycle run, catching up"
)

// lifecycleRank orders the automatic happy path. Statuses outside it are absent.
var lifecycleRank = map[PaymentStatus]int{
	PaymentStatusScheduled:         0,
	PaymentStatusUpcoming:          1,
	PaymentStatusDueToday:          2,
	PaymentStatusOverdue:           3,
	PaymentStatusGracePeriod:       4,
	PaymentStatusSuspensionPending: 5,
}

// DelinquentStatuses are the statuses for which daysOverdue is tracked.
var DelinquentStatuses = []PaymentStatus{
	PaymentStatusOverdue,
	PaymentStatusGracePeriod,
	PaymentStatusSuspensionPending,
}

// IsDelinquent reports whether the status is OVERDUE, GRACE_PERIOD or SUSPENSION_PENDING.
func (s PaymentStatus) IsDelinquent() bool {
	switch s {
	case PaymentStatusOverdue, PaymentStatusGracePeriod, PaymentStatusSuspensionPending:
		return true
	}
	return false
}

// IsSettled reports whether no further transition is expected.
func (s PaymentStatus) IsSettled() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	}
	return false
}

// CanAdvanceTo reports whether moving from s to next is allowed.
// The automatic path only moves forward; recording a payment may leave any
// unsettled status for PAID or PARTIALLY_PAID.
func (s PaymentStatus) CanAdvanceTo(next PaymentStatus) bool {
	if s.IsSettled() {
		return false
	}
	if next == PaymentStatusPaid {
		return true
	}
	if next == PaymentStatusPartiallyPaid {
		return s != PaymentStatusPartiallyPaid
	}
	from, ok := lifecycleRank[s]
	if !ok {
		return false
	}
	to, ok := lifecycleRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Payment is one scheduled installment of a plan.
type Payment struct {
	ID              string          `json:"id"`
	InstallationID  string          `json:"installation_id"`
	PaymentPlanID   string          `json:"payment_plan_id"`
	Amount          decimal.Decimal `json:"amount"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	DueDate         time.Time       `json:"due_date"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	Status          PaymentStatus   `json:"status"`
	StatusReason    string          `json:"status_reason,omitempty"`
	StatusUpdatedAt *time.Time      `json:"status_updated_at,omitempty"`
	DaysOverdue     int             `json:"days_overdue"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Outstanding returns the unpaid part of the installment, never negative.
func (p Payment) Outstanding() decimal.Decimal {
	rest := p.Amount.Sub(p.AmountPaid)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// DelinquentPayment is a delinquent installment with the late fee it would accrue.
type DelinquentPayment struct {
	Payment
	LateFee decimal.Decimal `json:"late_fee"`
}
