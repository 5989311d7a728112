/**
 * @description
 * Grace period and reminder policies. Both are single "current" records read
 * by the lifecycle engine and updated copy-on-write by administrators.
 */
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultGracePeriodDays    = 7
	DefaultGraceReminderEvery = 2
	DefaultFirstReminderDays  = 1
	DefaultSecondReminderDays = 3
	DefaultFinalReminderDays  = 7
	DefaultReminderMethod     = ReminderMethodEmail
	SystemActor               = "system"
)

// Reminder delivery methods.
const (
	ReminderMethodEmail = "EMAIL"
	ReminderMethodSMS   = "SMS"
	ReminderMethodBoth  = "BOTH"
)

// GracePeriodConfig controls escalation, suspension and late fees.
type GracePeriodConfig struct {
	ID                 string          `json:"id"`
	NumberOfDays       int             `json:"number_of_days"`
	ReminderFrequency  int             `json:"reminder_frequency"`
	AutoSuspendEnabled bool            `json:"auto_suspend_enabled"`
	LateFeesEnabled    bool            `json:"late_fees_enabled"`
	LateFeePercentage  decimal.Decimal `json:"late_fee_percentage"`
	LateFeeFixedAmount decimal.Decimal `json:"late_fee_fixed_amount"`
	CreatedBy          string          `json:"created_by"`
	UpdatedBy          string          `json:"updated_by"`
	Version            int             `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// DefaultGracePeriodConfig is created on first read when no record exists.
func DefaultGracePeriodConfig() GracePeriodConfig {
	return GracePeriodConfig{
		NumberOfDays:       DefaultGracePeriodDays,
		ReminderFrequency:  DefaultGraceReminderEvery,
		AutoSuspendEnabled: true,
		LateFeePercentage:  decimal.Zero,
		LateFeeFixedAmount: decimal.Zero,
		CreatedBy:          SystemActor,
		UpdatedBy:          SystemActor,
	}
}

// Validate checks field ranges.
func (c GracePeriodConfig) Validate() error {
	if c.NumberOfDays < 1 {
		return &ValidationError{Field: "number_of_days", Message: "must be at least 1"}
	}
	if c.ReminderFrequency < 1 {
		return &ValidationError{Field: "reminder_frequency", Message: "must be at least 1"}
	}
	if c.LateFeePercentage.IsNegative() || c.LateFeePercentage.GreaterThan(decimal.NewFromInt(100)) {
		return &ValidationError{Field: "late_fee_percentage", Message: "must be between 0 and 100"}
	}
	if c.LateFeeFixedAmount.IsNegative() {
		return &ValidationError{Field: "late_fee_fixed_amount", Message: "must not be negative"}
	}
	return nil
}

// LateFeeFor returns the late fee for an overdue amount, zero when late fees are off.
func (c GracePeriodConfig) LateFeeFor(amount decimal.Decimal) decimal.Decimal {
	if !c.LateFeesEnabled {
		return decimal.Zero
	}
	fee := amount.Mul(c.LateFeePercentage).Div(decimal.NewFromInt(100)).Add(c.LateFeeFixedAmount)
	return fee.Round(2)
}

// GracePeriodConfigUpdate carries an administrator's change. Nil fields take
// the built-in defaults. ID is accepted for compatibility and ignored.
type GracePeriodConfigUpdate struct {
	ID                 string           `json:"id,omitempty"`
	NumberOfDays       *int             `json:"number_of_days"`
	ReminderFrequency  *int             `json:"reminder_frequency"`
	AutoSuspendEnabled *bool            `json:"auto_suspend_enabled"`
	LateFeesEnabled    *bool            `json:"late_fees_enabled"`
	LateFeePercentage  *decimal.Decimal `json:"late_fee_percentage"`
	LateFeeFixedAmount *decimal.Decimal `json:"late_fee_fixed_amount"`
}

// Apply builds the candidate policy on top of the latest record.
func (u GracePeriodConfigUpdate) Apply(latest GracePeriodConfig) GracePeriodConfig {
	def := DefaultGracePeriodConfig()
	next := latest
	next.NumberOfDays = intOr(u.NumberOfDays, def.NumberOfDays)
	next.ReminderFrequency = intOr(u.ReminderFrequency, def.ReminderFrequency)
	next.AutoSuspendEnabled = boolOr(u.AutoSuspendEnabled, def.AutoSuspendEnabled)
	next.LateFeesEnabled = boolOr(u.LateFeesEnabled, def.LateFeesEnabled)
	next.LateFeePercentage = decimalOr(u.LateFeePercentage, def.LateFeePercentage)
	next.LateFeeFixedAmount = decimalOr(u.LateFeeFixedAmount, def.LateFeeFixedAmount)
	return next
}

// ReminderConfig controls reminder day offsets and the delivery method.
type ReminderConfig struct {
	ID                 string    `json:"id"`
	FirstReminderDays  int       `json:"first_reminder_days"`
	SecondReminderDays int       `json:"second_reminder_days"`
	FinalReminderDays  int       `json:"final_reminder_days"`
	ReminderMethod     string    `json:"reminder_method"`
	AutoSendReminders  bool      `json:"auto_send_reminders"`
	CreatedBy          string    `json:"created_by"`
	UpdatedBy          string    `json:"updated_by"`
	Version            int       `json:"version"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// DefaultReminderConfig is created on first read when no record exists.
func DefaultReminderConfig() ReminderConfig {
	return ReminderConfig{
		FirstReminderDays:  DefaultFirstReminderDays,
		SecondReminderDays: DefaultSecondReminderDays,
		FinalReminderDays:  DefaultFinalReminderDays,
		ReminderMethod:     DefaultReminderMethod,
		AutoSendReminders:  true,
		CreatedBy:          SystemActor,
		UpdatedBy:          SystemActor,
	}
}

// Validate enforces first < second < final and a known delivery method.
func (c ReminderConfig) Validate() error {
	if c.FirstReminderDays < 0 {
		return &ValidationError{Field: "first_reminder_days", Message: "must not be negative"}
	}
	if c.FirstReminderDays >= c.SecondReminderDays {
		return &ValidationError{Field: "second_reminder_days", Message: "must be greater than first_reminder_days"}
	}
	if c.SecondReminderDays >= c.FinalReminderDays {
		return &ValidationError{Field: "final_reminder_days", Message: "must be greater than second_reminder_days"}
	}
	switch c.ReminderMethod {
	case ReminderMethodEmail, ReminderMethodSMS, ReminderMethodBoth:
	default:
		return &ValidationError{Field: "reminder_method", Message: "must be EMAIL, SMS or BOTH"}
	}
	return nil
}

// ReminderConfigUpdate carries an administrator's change. Nil fields take
// the built-in defaults. ID is accepted for compatibility and ignored.
type ReminderConfigUpdate struct {
	ID                 string  `json:"id,omitempty"`
	FirstReminderDays  *int    `json:"first_reminder_days"`
	SecondReminderDays *int    `json:"second_reminder_days"`
	FinalReminderDays  *int    `json:"final_reminder_days"`
	ReminderMethod     *string `json:"reminder_method"`
	AutoSendReminders  *bool   `json:"auto_send_reminders"`
}

// Apply builds the candidate policy on top of the latest record.
func (u ReminderConfigUpdate) Apply(latest ReminderConfig) ReminderConfig {
	def := DefaultReminderConfig()
	next := latest
	next.FirstReminderDays = intOr(u.FirstReminderDays, def.FirstReminderDays)
	next.SecondReminderDays = intOr(u.SecondReminderDays, def.SecondReminderDays)
	next.FinalReminderDays = intOr(u.FinalReminderDays, def.FinalReminderDays)
	next.ReminderMethod = def.ReminderMethod
	if u.ReminderMethod != nil && strings.TrimSpace(*u.ReminderMethod) != "" {
		next.ReminderMethod = strings.ToUpper(strings.TrimSpace(*u.ReminderMethod))
	}
	next.AutoSendReminders = boolOr(u.AutoSendReminders, def.AutoSendReminders)
	return next
}

func intOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func decimalOr(v *decimal.Decimal, fallback decimal.Decimal) decimal.Decimal {
	if v == nil {
		return fallback
	}
	return *v
}
