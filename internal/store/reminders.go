package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/solarpay/compliance-service/internal/domain"
)

const reminderColumns = `
	id::text, payment_id::text, reminder_type, sent_date, delivery_status, delivery_channel,
	recipient_address, subject, message_content, retry_count, last_retry_date,
	COALESCE(error_message, '')`

func scanReminder(row pgx.Row) (*domain.PaymentReminder, error) {
	var (
		rem            domain.PaymentReminder
		reminderType   string
		deliveryStatus string
	)
	if err := row.Scan(
		&rem.ID,
		&rem.PaymentID,
		&reminderType,
		&rem.SentDate,
		&deliveryStatus,
		&rem.DeliveryChannel,
		&rem.RecipientAddress,
		&rem.Subject,
		&rem.MessageContent,
		&rem.RetryCount,
		&rem.LastRetryDate,
		&rem.ErrorMessage,
	); err != nil {
		return nil, err
	}
	rem.ReminderType = domain.ReminderType(reminderType)
	rem.DeliveryStatus = domain.DeliveryStatus(deliveryStatus)
	return &rem, nil
}

func collectReminders(rows pgx.Rows) ([]domain.PaymentReminder, error) {
	defer rows.Close()
	var reminders []domain.PaymentReminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, *rem)
	}
	return reminders, rows.Err()
}

// HasReminderSince reports whether a reminder of the given type was recorded
// for the payment at or after since, whatever its delivery status.
func (r *Repository) HasReminderSince(ctx context.Context, paymentID string, reminderType domain.ReminderType, since time.Time) (bool, error) {
	query := `
        SELECT EXISTS (
            SELECT 1
            FROM payment_reminders
            WHERE payment_id = $1
              AND reminder_type = $2
              AND sent_date >= $3
        )
    `
	var exists bool
	if err := r.db.QueryRow(ctx, query, paymentID, string(reminderType), since).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ClaimReminders inserts one pending reminder per delivery channel unless a
// reminder of the same type was recorded for the payment at or after since.
// All rows share the payment and reminder type of rems[0]. It returns nil
// when the cooldown suppressed the insert. The check and inserts are
// serialized per (payment, type) with a transaction-scoped advisory lock.
func (r *Repository) ClaimReminders(ctx context.Context, rems []domain.PaymentReminder, since time.Time) ([]domain.PaymentReminder, error) {
	if len(rems) == 0 {
		return nil, nil
	}
	paymentID, reminderType := rems[0].PaymentID, string(rems[0].ReminderType)

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, paymentID+":"+reminderType); err != nil {
		return nil, err
	}

	var exists bool
	if err := tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1
            FROM payment_reminders
            WHERE payment_id = $1
              AND reminder_type = $2
              AND sent_date >= $3
        )
    `, paymentID, reminderType, since).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	query := `
        INSERT INTO payment_reminders (
            payment_id, reminder_type, sent_date, delivery_status, delivery_channel,
            recipient_address, subject, message_content, retry_count
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)
        RETURNING ` + reminderColumns

	claimed := make([]domain.PaymentReminder, 0, len(rems))
	for _, rem := range rems {
		row, err := scanReminder(tx.QueryRow(ctx, query,
			paymentID,
			reminderType,
			rem.SentDate,
			string(domain.DeliveryPending),
			rem.DeliveryChannel,
			rem.RecipientAddress,
			rem.Subject,
			rem.MessageContent,
		))
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, *row)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkReminderSent records a successful delivery.
func (r *Repository) MarkReminderSent(ctx context.Context, reminderID string) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE payment_reminders
        SET delivery_status = 'SENT',
            error_message = NULL
        WHERE id = $1
    `, reminderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReminderNotFound
	}
	return nil
}

// MarkReminderFailed records a failed delivery with its error text.
func (r *Repository) MarkReminderFailed(ctx context.Context, reminderID string, reason string) error {
	if len(reason) > 2000 {
		reason = reason[:2000]
	}
	tag, err := r.db.Exec(ctx, `
        UPDATE payment_reminders
        SET delivery_status = 'FAILED',
            error_message = $2
        WHERE id = $1
    `, reminderID, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReminderNotFound
	}
	return nil
}

// ReleaseStaleReminders marks reminders that stayed PENDING or RETRY_SCHEDULED
// since before claimedBefore as FAILED, so the retry pass picks them up. It
// returns the number of released reminders.
func (r *Repository) ReleaseStaleReminders(ctx context.Context, claimedBefore time.Time, reason string) (int, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE payment_reminders
        SET delivery_status = 'FAILED',
            error_message = $2
        WHERE (delivery_status = 'PENDING' AND sent_date < $1)
           OR (delivery_status = 'RETRY_SCHEDULED' AND COALESCE(last_retry_date, sent_date) < $1)
    `, claimedBefore, reason)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListRetryableReminders returns FAILED reminders with fewer than maxRetries attempts.
func (r *Repository) ListRetryableReminders(ctx context.Context, maxRetries int) ([]domain.PaymentReminder, error) {
	query := `
        SELECT ` + reminderColumns + `
        FROM payment_reminders
        WHERE delivery_status = 'FAILED'
          AND retry_count < $1
        ORDER BY sent_date ASC
    `
	rows, err := r.db.Query(ctx, query, maxRetries)
	if err != nil {
		return nil, err
	}
	return collectReminders(rows)
}

// ClaimReminderRetry moves a FAILED reminder under the retry cap into
// RETRY_SCHEDULED, incrementing its retry count. It returns nil when the
// reminder is no longer eligible.
func (r *Repository) ClaimReminderRetry(ctx context.Context, reminderID string, maxRetries int, at time.Time) (*domain.PaymentReminder, error) {
	query := `
        UPDATE payment_reminders
        SET delivery_status = 'RETRY_SCHEDULED',
            retry_count = retry_count + 1,
            last_retry_date = $3
        WHERE id = $1
          AND delivery_status = 'FAILED'
          AND retry_count < $2
        RETURNING ` + reminderColumns

	rem, err := scanReminder(r.db.QueryRow(ctx, query, reminderID, maxRetries, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rem, nil
}

// ListRemindersByPayment returns all reminders of a payment, newest first.
func (r *Repository) ListRemindersByPayment(ctx context.Context, paymentID string) ([]domain.PaymentReminder, error) {
	query := `
        SELECT ` + reminderColumns + `
        FROM payment_reminders
        WHERE payment_id = $1
        ORDER BY sent_date DESC
    `
	rows, err := r.db.Query(ctx, query, paymentID)
	if err != nil {
		return nil, err
	}
	return collectReminders(rows)
}
