package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/solarpay/compliance-service/internal/domain"
)

const graceConfigColumns = `
	id::text, number_of_days, reminder_frequency, auto_suspend_enabled, late_fees_enabled,
	late_fee_percentage, late_fee_fixed_amount, created_by, updated_by, version, created_at, updated_at`

const reminderConfigColumns = `
	id::text, first_reminder_days, second_reminder_days, final_reminder_days, reminder_method,
	auto_send_reminders, created_by, updated_by, version, created_at, updated_at`

func scanGraceConfig(row pgx.Row) (*domain.GracePeriodConfig, error) {
	var c domain.GracePeriodConfig
	if err := row.Scan(
		&c.ID,
		&c.NumberOfDays,
		&c.ReminderFrequency,
		&c.AutoSuspendEnabled,
		&c.LateFeesEnabled,
		&c.LateFeePercentage,
		&c.LateFeeFixedAmount,
		&c.CreatedBy,
		&c.UpdatedBy,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanReminderConfig(row pgx.Row) (*domain.ReminderConfig, error) {
	var c domain.ReminderConfig
	if err := row.Scan(
		&c.ID,
		&c.FirstReminderDays,
		&c.SecondReminderDays,
		&c.FinalReminderDays,
		&c.ReminderMethod,
		&c.AutoSendReminders,
		&c.CreatedBy,
		&c.UpdatedBy,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return &c, nil
}

// LatestGracePeriodConfig returns the most recently created grace period policy.
func (r *Repository) LatestGracePeriodConfig(ctx context.Context) (*domain.GracePeriodConfig, error) {
	query := `SELECT ` + graceConfigColumns + ` FROM grace_period_configs ORDER BY created_at DESC, id DESC LIMIT 1`
	return scanGraceConfig(r.db.QueryRow(ctx, query))
}

// EnsureGracePeriodConfig inserts def when the table is empty and returns the latest policy.
func (r *Repository) EnsureGracePeriodConfig(ctx context.Context, def domain.GracePeriodConfig) (*domain.GracePeriodConfig, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('grace_period_configs'))`); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO grace_period_configs (
            number_of_days, reminder_frequency, auto_suspend_enabled, late_fees_enabled,
            late_fee_percentage, late_fee_fixed_amount, created_by, updated_by
        )
        SELECT $1, $2, $3, $4, $5, $6, $7, $7
        WHERE NOT EXISTS (SELECT 1 FROM grace_period_configs)
    `,
		def.NumberOfDays,
		def.ReminderFrequency,
		def.AutoSuspendEnabled,
		def.LateFeesEnabled,
		def.LateFeePercentage,
		def.LateFeeFixedAmount,
		def.CreatedBy,
	)
	if err != nil {
		return nil, err
	}

	cfg, err := scanGraceConfig(tx.QueryRow(ctx,
		`SELECT `+graceConfigColumns+` FROM grace_period_configs ORDER BY created_at DESC, id DESC LIMIT 1`))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UpdateGracePeriodConfig overwrites the record identified by cfg.ID when its
// version still matches cfg.Version.
func (r *Repository) UpdateGracePeriodConfig(ctx context.Context, cfg domain.GracePeriodConfig) (*domain.GracePeriodConfig, error) {
	query := `
        UPDATE grace_period_configs
        SET number_of_days = $3,
            reminder_frequency = $4,
            auto_suspend_enabled = $5,
            late_fees_enabled = $6,
            late_fee_percentage = $7,
            late_fee_fixed_amount = $8,
            updated_by = $9,
            version = version + 1,
            updated_at = NOW()
        WHERE id = $1
          AND version = $2
        RETURNING ` + graceConfigColumns

	updated, err := scanGraceConfig(r.db.QueryRow(ctx, query,
		cfg.ID,
		cfg.Version,
		cfg.NumberOfDays,
		cfg.ReminderFrequency,
		cfg.AutoSuspendEnabled,
		cfg.LateFeesEnabled,
		cfg.LateFeePercentage,
		cfg.LateFeeFixedAmount,
		cfg.UpdatedBy,
	))
	if errors.Is(err, ErrConfigNotFound) {
		return nil, ErrConfigVersionConflict
	}
	return updated, err
}

// LatestReminderConfig returns the most recently created reminder policy.
func (r *Repository) LatestReminderConfig(ctx context.Context) (*domain.ReminderConfig, error) {
	query := `SELECT ` + reminderConfigColumns + ` FROM reminder_configs ORDER BY created_at DESC, id DESC LIMIT 1`
	return scanReminderConfig(r.db.QueryRow(ctx, query))
}

// EnsureReminderConfig inserts def when the table is empty and returns the latest policy.
func (r *Repository) EnsureReminderConfig(ctx context.Context, def domain.ReminderConfig) (*domain.ReminderConfig, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('reminder_configs'))`); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO reminder_configs (
            first_reminder_days, second_reminder_days, final_reminder_days,
            reminder_method, auto_send_reminders, created_by, updated_by
        )
        SELECT $1, $2, $3, $4, $5, $6, $6
        WHERE NOT EXISTS (SELECT 1 FROM reminder_configs)
    `,
		def.FirstReminderDays,
		def.SecondReminderDays,
		def.FinalReminderDays,
		def.ReminderMethod,
		def.AutoSendReminders,
		def.CreatedBy,
	)
	if err != nil {
		return nil, err
	}

	cfg, err := scanReminderConfig(tx.QueryRow(ctx,
		`SELECT `+reminderConfigColumns+` FROM reminder_configs ORDER BY created_at DESC, id DESC LIMIT 1`))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UpdateReminderConfig overwrites the record identified by cfg.ID when its
// version still matches cfg.Version.
func (r *Repository) UpdateReminderConfig(ctx context.Context, cfg domain.ReminderConfig) (*domain.ReminderConfig, error) {
	query := `
        UPDATE reminder_configs
        SET first_reminder_days = $3,
            second_reminder_days = $4,
            final_reminder_days = $5,
            reminder_method = $6,
            auto_send_reminders = $7,
            updated_by = $8,
            version = version + 1,
            updated_at = NOW()
        WHERE id = $1
          AND version = $2
        RETURNING ` + reminderConfigColumns

	updated, err := scanReminderConfig(r.db.QueryRow(ctx, query,
		cfg.ID,
		cfg.Version,
		cfg.FirstReminderDays,
		cfg.SecondReminderDays,
		cfg.FinalReminderDays,
		cfg.ReminderMethod,
		cfg.AutoSendReminders,
		cfg.UpdatedBy,
	))
	if errors.Is(err, ErrConfigNotFound) {
		return nil, ErrConfigVersionConflict
	}
	return updated, err
}
