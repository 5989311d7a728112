package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/solarpay/compliance-service/internal/domain"
)

const planColumns = `
	id::text, installation_id::text, name, total_amount, remaining_amount, number_of_payments,
	installment_amount, frequency, start_date, end_date, status, interest_rate, late_fee_amount,
	grace_period_days, created_at, updated_at`

func scanPlan(row pgx.Row) (*domain.PaymentPlan, error) {
	var (
		p         domain.PaymentPlan
		frequency string
		status    string
	)
	if err := row.Scan(
		&p.ID,
		&p.InstallationID,
		&p.Name,
		&p.TotalAmount,
		&p.RemainingAmount,
		&p.NumberOfPayments,
		&p.InstallmentAmount,
		&frequency,
		&p.StartDate,
		&p.EndDate,
		&status,
		&p.InterestRate,
		&p.LateFeeAmount,
		&p.GracePeriodDays,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	p.Frequency = domain.PaymentFrequency(frequency)
	p.Status = domain.PaymentPlanStatus(status)
	return &p, nil
}

// GetPaymentPlan fetches a plan by id.
func (r *Repository) GetPaymentPlan(ctx context.Context, planID string) (*domain.PaymentPlan, error) {
	return scanPlan(r.db.QueryRow(ctx, `SELECT `+planColumns+` FROM payment_plans WHERE id = $1`, planID))
}

// ApplyPaymentToPlan subtracts amount from the remaining balance, clamped at zero.
func (r *Repository) ApplyPaymentToPlan(ctx context.Context, planID string, amount decimal.Decimal) (*domain.PaymentPlan, error) {
	query := `
        UPDATE payment_plans
        SET remaining_amount = GREATEST(remaining_amount - $2, 0),
            updated_at = NOW()
        WHERE id = $1
        RETURNING ` + planColumns
	return scanPlan(r.db.QueryRow(ctx, query, planID, amount))
}

// SetPlanRemaining overwrites the remaining balance, clamped at zero.
func (r *Repository) SetPlanRemaining(ctx context.Context, planID string, remaining decimal.Decimal) (*domain.PaymentPlan, error) {
	query := `
        UPDATE payment_plans
        SET remaining_amount = GREATEST($2, 0),
            updated_at = NOW()
        WHERE id = $1
        RETURNING ` + planColumns
	return scanPlan(r.db.QueryRow(ctx, query, planID, remaining))
}

// SetPlanStatus updates the plan status.
func (r *Repository) SetPlanStatus(ctx context.Context, planID string, status domain.PaymentPlanStatus) (*domain.PaymentPlan, error) {
	query := `
        UPDATE payment_plans
        SET status = $2,
            updated_at = NOW()
        WHERE id = $1
        RETURNING ` + planColumns
	return scanPlan(r.db.QueryRow(ctx, query, planID, string(status)))
}

// SumRecordedAmount totals the amounts recorded against a plan's PAID and PARTIALLY_PAID payments.
func (r *Repository) SumRecordedAmount(ctx context.Context, planID string) (decimal.Decimal, error) {
	query := `
        SELECT COALESCE(SUM(amount_paid), 0)
        FROM payments
        WHERE payment_plan_id = $1
          AND status IN ('PAID', 'PARTIALLY_PAID')
    `
	var total decimal.Decimal
	if err := r.db.QueryRow(ctx, query, planID).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// GetCustomerContact resolves the owner of an installation.
func (r *Repository) GetCustomerContact(ctx context.Context, installationID string) (*domain.CustomerContact, error) {
	query := `
        SELECT si.id::text, si.status, u.id::text, u.full_name, COALESCE(u.email, ''), COALESCE(u.phone_number, '')
        FROM solar_installations si
        JOIN users u ON u.id = si.user_id
        WHERE si.id = $1
    `
	var (
		contact domain.CustomerContact
		status  string
	)
	err := r.db.QueryRow(ctx, query, installationID).Scan(
		&contact.InstallationID,
		&status,
		&contact.UserID,
		&contact.FullName,
		&contact.Email,
		&contact.Phone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	contact.InstallationStatus = domain.InstallationStatus(status)
	return &contact, nil
}
