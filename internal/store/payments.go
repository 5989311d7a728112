package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/solarpay/compliance-service/internal/domain"
)

// PaymentFilter selects payments. DueFrom and DueTo are inclusive, DueBefore is exclusive.
type PaymentFilter struct {
	Statuses  []domain.PaymentStatus
	PlanID    string
	DueFrom   *time.Time
	DueTo     *time.Time
	DueBefore *time.Time
	Limit     int
	Offset    int
}

// RecordedPayment is the outcome of applying a received amount to an installment.
type RecordedPayment struct {
	PaymentID      string
	ExpectedStatus domain.PaymentStatus
	Status         domain.PaymentStatus
	Reason         string
	AmountPaid     decimal.Decimal
	PaidAt         time.Time
	TransactionID  string
	PaymentMethod  string
}

const paymentColumns = `
	id::text, installation_id::text, payment_plan_id::text, amount, amount_paid, due_date,
	paid_at, status, COALESCE(status_reason, ''), status_updated_at, days_overdue,
	COALESCE(transaction_id, ''), COALESCE(payment_method, ''), created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p      domain.Payment
		status string
	)
	if err := row.Scan(
		&p.ID,
		&p.InstallationID,
		&p.PaymentPlanID,
		&p.Amount,
		&p.AmountPaid,
		&p.DueDate,
		&p.PaidAt,
		&status,
		&p.StatusReason,
		&p.StatusUpdatedAt,
		&p.DaysOverdue,
		&p.TransactionID,
		&p.PaymentMethod,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}

// GetPayment fetches a payment by id.
func (r *Repository) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	payment, err := scanPayment(r.db.QueryRow(ctx, query, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

func paymentWhere(filter PaymentFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, statuses)
		conds = append(conds, fmt.Sprintf("status = ANY($%d::text[])", len(args)))
	}
	if filter.PlanID != "" {
		args = append(args, filter.PlanID)
		conds = append(conds, fmt.Sprintf("payment_plan_id = $%d", len(args)))
	}
	if filter.DueFrom != nil {
		args = append(args, *filter.DueFrom)
		conds = append(conds, fmt.Sprintf("due_date >= $%d", len(args)))
	}
	if filter.DueTo != nil {
		args = append(args, *filter.DueTo)
		conds = append(conds, fmt.Sprintf("due_date <= $%d", len(args)))
	}
	if filter.DueBefore != nil {
		args = append(args, *filter.DueBefore)
		conds = append(conds, fmt.Sprintf("due_date < $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListPayments returns payments matching the filter ordered by due date.
func (r *Repository) ListPayments(ctx context.Context, filter PaymentFilter) ([]domain.Payment, error) {
	where, args := paymentWhere(filter)
	query := `SELECT ` + paymentColumns + ` FROM payments` + where + ` ORDER BY due_date ASC, id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	return payments, rows.Err()
}

// CountPayments counts payments matching the filter. Limit and Offset are ignored.
func (r *Repository) CountPayments(ctx context.Context, filter PaymentFilter) (int, error) {
	where, args := paymentWhere(filter)
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM payments`+where, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// TransitionPaymentStatus moves a payment from one status to another. It
// reports false when the payment is no longer in the expected status.
func (r *Repository) TransitionPaymentStatus(
	ctx context.Context,
	paymentID string,
	from, to domain.PaymentStatus,
	reason string,
	at time.Time,
) (bool, error) {
	query := `
        UPDATE payments
        SET status = $3,
            status_reason = $4,
            status_updated_at = $5,
            updated_at = NOW()
        WHERE id = $1
          AND status = $2
    `
	tag, err := r.db.Exec(ctx, query, paymentID, string(from), string(to), reason, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateDaysOverdue stores the computed days overdue while the payment is still delinquent.
func (r *Repository) UpdateDaysOverdue(ctx context.Context, paymentID string, days int) error {
	query := `
        UPDATE payments
        SET days_overdue = $2,
            updated_at = NOW()
        WHERE id = $1
          AND status IN ('OVERDUE', 'GRACE_PERIOD', 'SUSPENSION_PENDING')
    `
	_, err := r.db.Exec(ctx, query, paymentID, days)
	return err
}

// RecordPayment applies a received amount. The update only happens while the
// payment still has the expected status.
func (r *Repository) RecordPayment(ctx context.Context, rec RecordedPayment) (*domain.Payment, error) {
	query := `
        UPDATE payments
        SET status = $3,
            status_reason = $4,
            status_updated_at = $5,
            amount_paid = $6,
            paid_at = $5,
            days_overdue = 0,
            transaction_id = NULLIF($7, ''),
            payment_method = NULLIF($8, ''),
            updated_at = NOW()
        WHERE id = $1
          AND status = $2
        RETURNING ` + paymentColumns

	payment, err := scanPayment(r.db.QueryRow(ctx, query,
		rec.PaymentID,
		string(rec.ExpectedStatus),
		string(rec.Status),
		rec.Reason,
		rec.PaidAt,
		rec.AmountPaid,
		rec.TransactionID,
		rec.PaymentMethod,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStatusConflict
		}
		return nil, err
	}
	return payment, nil
}

// CreatePayment inserts a new installment.
func (r *Repository) CreatePayment(ctx context.Context, p domain.Payment) (*domain.Payment, error) {
	query := `
        INSERT INTO payments (installation_id, payment_plan_id, amount, amount_paid, due_date, status, status_reason, status_updated_at)
        VALUES ($1, $2, $3, 0, $4, $5, $6, NOW())
        RETURNING ` + paymentColumns

	return scanPayment(r.db.QueryRow(ctx, query,
		p.InstallationID,
		p.PaymentPlanID,
		p.Amount,
		p.DueDate,
		string(p.Status),
		p.StatusReason,
	))
}
