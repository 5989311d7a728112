package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentFrequency is the installment cadence of a plan.
type PaymentFrequency string

const (
	FrequencyWeekly       PaymentFrequency = "WEEKLY"
	FrequencyBiWeekly     PaymentFrequency = "BI_WEEKLY"
	FrequencyMonthly      PaymentFrequency = "MONTHLY"
	FrequencyQuarterly    PaymentFrequency = "QUARTERLY"
	FrequencySemiAnnually PaymentFrequency = "SEMI_ANNUALLY"
	FrequencyAnnually     PaymentFrequency = "ANNUALLY"
)

// NextDueDate returns the due date following last. Unknown frequencies fall back to monthly.
func (f PaymentFrequency) NextDueDate(last time.Time) time.Time {
	switch f {
	case FrequencyWeekly:
		return last.AddDate(0, 0, 7)
	case FrequencyBiWeekly:
		return last.AddDate(0, 0, 14)
	case FrequencyQuarterly:
		return last.AddDate(0, 3, 0)
	case FrequencySemiAnnually:
		return last.AddDate(0, 6, 0)
	case FrequencyAnnually:
		return last.AddDate(1, 0, 0)
	default:
		return last.AddDate(0, 1, 0)
	}
}

// PaymentPlanStatus is the state of a billing agreement.
type PaymentPlanStatus string

const (
	PlanStatusActive    PaymentPlanStatus = "ACTIVE"
	PlanStatusCompleted PaymentPlanStatus = "COMPLETED"
	PlanStatusCancelled PaymentPlanStatus = "CANCELLED"
	PlanStatusSuspended PaymentPlanStatus = "SUSPENDED"
	PlanStatusDefaulted PaymentPlanStatus = "DEFAULTED"
)

// PaymentPlan is the installment agreement for one installation.
type PaymentPlan struct {
	ID                string            `json:"id"`
	InstallationID    string            `json:"installation_id"`
	Name              string            `json:"name"`
	TotalAmount       decimal.Decimal   `json:"total_amount"`
	RemainingAmount   decimal.Decimal   `json:"remaining_amount"`
	NumberOfPayments  int               `json:"number_of_payments"`
	InstallmentAmount decimal.Decimal   `json:"installment_amount"`
	Frequency         PaymentFrequency  `json:"frequency"`
	StartDate         time.Time         `json:"start_date"`
	EndDate           time.Time         `json:"end_date"`
	Status            PaymentPlanStatus `json:"status"`
	InterestRate      decimal.Decimal   `json:"interest_rate"`
	LateFeeAmount     decimal.Decimal   `json:"late_fee_amount"`
	GracePeriodDays   int               `json:"grace_period_days"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// ClampRemaining returns max(0, remaining).
func ClampRemaining(remaining decimal.Decimal) decimal.Decimal {
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// InstallationStatus is the service state of a solar installation.
type InstallationStatus string

const (
	InstallationStatusActive    InstallationStatus = "ACTIVE"
	InstallationStatusSuspended InstallationStatus = "SUSPENDED"
)

// CustomerContact is the recipient data resolved from an installation's owner.
type CustomerContact struct {
	InstallationID     string             `json:"installation_id"`
	InstallationStatus InstallationStatus `json:"installation_status"`
	UserID             string             `json:"user_id"`
	FullName           string             `json:"full_name"`
	Email              string             `json:"email"`
	Phone              string             `json:"phone"`
}
