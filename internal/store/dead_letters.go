package store

import (
	"context"
	"time"

	"github.com/solarpay/compliance-service/internal/domain"
)

// SaveDeadLetter stores an event whose in-process publication was exhausted.
func (r *Repository) SaveDeadLetter(ctx context.Context, ev domain.DeadLetterEvent) error {
	lastError := ev.LastError
	if len(lastError) > 2000 {
		lastError = lastError[:2000]
	}
	_, err := r.db.Exec(ctx, `
        INSERT INTO payment_event_dead_letters (event_id, exchange, routing_key, payload, attempts, last_error, status, next_attempt_at)
        VALUES ($1, $2, $3, $4::jsonb, $5, $6, 'pending', NOW())
        ON CONFLICT (event_id) DO NOTHING
    `, ev.EventID, ev.Exchange, ev.RoutingKey, string(ev.Payload), ev.Attempts, lastError)
	return err
}

// ClaimDeadLetters locks up to limit due dead letters for redrive. Rows stuck
// in processing longer than staleAfter are reclaimed.
func (r *Repository) ClaimDeadLetters(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.DeadLetterEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	staleAfterSeconds := int(staleAfter.Seconds())
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = 120
	}

	query := `
		WITH candidates AS (
			SELECT id
			FROM payment_event_dead_letters
			WHERE (
				(status = 'pending' AND next_attempt_at <= NOW())
				OR (status = 'processing' AND processing_started_at < NOW() - ($2 * INTERVAL '1 second'))
			)
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE payment_event_dead_letters AS d
		SET status = 'processing',
			processing_started_at = NOW(),
			attempts = d.attempts + 1
		FROM candidates
		WHERE d.id = candidates.id
		RETURNING d.id, d.event_id, d.exchange, d.routing_key, d.payload::text, d.attempts,
			COALESCE(d.last_error, ''), d.created_at, d.next_attempt_at
	`

	rows, err := r.db.Query(ctx, query, limit, staleAfterSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.DeadLetterEvent, 0, limit)
	for rows.Next() {
		var (
			ev          domain.DeadLetterEvent
			payloadText string
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.EventID,
			&ev.Exchange,
			&ev.RoutingKey,
			&payloadText,
			&ev.Attempts,
			&ev.LastError,
			&ev.CreatedAt,
			&ev.NextAttempt,
		); err != nil {
			return nil, err
		}
		ev.Payload = []byte(payloadText)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkDeadLetterDelivered records a successful redrive.
func (r *Repository) MarkDeadLetterDelivered(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
        UPDATE payment_event_dead_letters
        SET status = 'delivered',
            delivered_at = NOW(),
            processing_started_at = NULL,
            last_error = NULL
        WHERE id = $1
    `, id)
	return err
}

// MarkDeadLetterFailed reschedules a dead letter after a failed redrive.
func (r *Repository) MarkDeadLetterFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	if len(reason) > 2000 {
		reason = reason[:2000]
	}
	_, err := r.db.Exec(ctx, `
        UPDATE payment_event_dead_letters
        SET status = 'pending',
            processing_started_at = NULL,
            next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
            last_error = $3
        WHERE id = $1
    `, id, retryAfterSeconds, reason)
	return err
}
