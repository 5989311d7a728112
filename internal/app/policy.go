/**
 * @description
 * PolicyService owns the grace period and reminder policies. Reads always
 * return the latest record and create the built-in default when none exists.
 * Updates are validated before anything is written and always target the
 * latest record.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/solarpay/compliance-service/internal/domain"
	"github.com/solarpay/compliance-service/internal/store"
)

// PolicyService implements PolicyStore on top of a PolicyRepository.
type PolicyService struct {
	repo   PolicyRepository
	logger *slog.Logger
}

// NewPolicyService creates a new PolicyService.
func NewPolicyService(repo PolicyRepository, logger *slog.Logger) *PolicyService {
	return &PolicyService{repo: repo, logger: logger}
}

// CurrentGracePeriodConfig returns the latest grace period policy.
func (s *PolicyService) CurrentGracePeriodConfig(ctx context.Context) (domain.GracePeriodConfig, error) {
	cfg, err := s.repo.LatestGracePeriodConfig(ctx)
	if errors.Is(err, store.ErrConfigNotFound) {
		s.logger.Info("no grace period config found, creating default")
		cfg, err = s.repo.EnsureGracePeriodConfig(ctx, domain.DefaultGracePeriodConfig())
	}
	if err != nil {
		return domain.GracePeriodConfig{}, fmt.Errorf("load grace period config: %w", err)
	}
	return *cfg, nil
}

// CurrentReminderConfig returns the latest reminder policy.
func (s *PolicyService) CurrentReminderConfig(ctx context.Context) (domain.ReminderConfig, error) {
	cfg, err := s.repo.LatestReminderConfig(ctx)
	if errors.Is(err, store.ErrConfigNotFound) {
		s.logger.Info("no reminder config found, creating default")
		cfg, err = s.repo.EnsureReminderConfig(ctx, domain.DefaultReminderConfig())
	}
	if err != nil {
		return domain.ReminderConfig{}, fmt.Errorf("load reminder config: %w", err)
	}
	return *cfg, nil
}

// UpdateGracePeriodConfig applies an administrator's change to the latest grace period policy.
func (s *PolicyService) UpdateGracePeriodConfig(ctx context.Context, update domain.GracePeriodConfigUpdate, username string) (*domain.GracePeriodConfig, error) {
	latest, err := s.CurrentGracePeriodConfig(ctx)
	if err != nil {
		return nil, err
	}

	next := update.Apply(latest)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.UpdatedBy = actor(username)

	saved, err := s.repo.UpdateGracePeriodConfig(ctx, next)
	if err != nil {
		return nil, err
	}
	s.logger.Info("grace period config updated",
		"config_id", saved.ID,
		"updated_by", saved.UpdatedBy,
		"number_of_days", saved.NumberOfDays,
		"auto_suspend_enabled", saved.AutoSuspendEnabled,
	)
	return saved, nil
}

// UpdateReminderConfig applies an administrator's change to the latest reminder policy.
func (s *PolicyService) UpdateReminderConfig(ctx context.Context, update domain.ReminderConfigUpdate, username string) (*domain.ReminderConfig, error) {
	latest, err := s.CurrentReminderConfig(ctx)
	if err != nil {
		return nil, err
	}

	next := update.Apply(latest)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.UpdatedBy = actor(username)

	saved, err := s.repo.UpdateReminderConfig(ctx, next)
	if err != nil {
		return nil, err
	}
	s.logger.Info("reminder config updated",
		"config_id", saved.ID,
		"updated_by", saved.UpdatedBy,
		"reminder_method", saved.ReminderMethod,
	)
	return saved, nil
}

func actor(username string) string {
	if username == "" {
		return domain.SystemActor
	}
	return username
}
