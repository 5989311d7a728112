/**
 * @description
 * LifecycleEngine moves payments along the delinquency path once per day:
 * SCHEDULED -> UPCOMING -> DUE_TODAY -> OVERDUE -> GRACE_PERIOD -> SUSPENSION_PENDING.
 *
 * The daily cycle runs four phases in a fixed order. A phase failure aborts
 * the remaining phases of that run; a failure on one payment never stops the
 * loop for the others. Every transition is a conditional update on the
 * status the engine read, so a payment recorded as paid mid-run is skipped.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solarpay/compliance-service/internal/domain"
	"github.com/solarpay/compliance-service/internal/store"
)

// Phase names used in results, logs and metrics.
const (
	PhaseIdentifyUpcoming     = "identify_upcoming_payments"
	PhaseMarkOverdue          = "mark_overdue_payments"
	PhaseCalculateDaysOverdue = "calculate_days_overdue"
	PhaseFlagSuspension       = "flag_accounts_for_suspension"
)

const (
	// DefaultUpcomingHorizon is how far ahead SCHEDULED payments become UPCOMING.
	DefaultUpcomingHorizon = 3 * 24 * time.Hour
	// GraceEscalationDays moves an OVERDUE payment into GRACE_PERIOD. It does
	// not depend on the configured grace period length.
	GraceEscalationDays = 3
)

// PhaseResult summarizes one phase run.
type PhaseResult struct {
	Phase         string `json:"phase"`
	Evaluated     int    `json:"evaluated"`
	Transitioned  int    `json:"transitioned"`
	RemindersSent int    `json:"reminders_sent"`
	Failed        int    `json:"failed"`
	Skipped       int    `json:"skipped"`
	Disabled      bool   `json:"disabled,omitempty"`
}

// CycleResult summarizes a daily cycle. Phases holds the phases that ran.
type CycleResult struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Phases     []*PhaseResult `json:"phases"`
}

// PhaseError reports the phase that aborted a daily cycle.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("lifecycle phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// LifecycleOptions tunes a LifecycleEngine. Zero values take defaults.
type LifecycleOptions struct {
	Horizon  time.Duration
	Workers  int
	Location *time.Location
	Now      Clock
	Metrics  *Metrics
}

// LifecycleEngine runs the daily payment status cycle.
type LifecycleEngine struct {
	payments  PaymentRepository
	policies  PolicyStore
	reminders ReminderSender
	events    LifecycleEventPublisher
	logger    *slog.Logger
	metrics   *Metrics
	now       Clock
	loc       *time.Location
	horizon   time.Duration
	workers   int
}

// NewLifecycleEngine creates a new LifecycleEngine.
func NewLifecycleEngine(
	payments PaymentRepository,
	policies PolicyStore,
	reminders ReminderSender,
	events LifecycleEventPublisher,
	logger *slog.Logger,
	opts LifecycleOptions,
) *LifecycleEngine {
	e := &LifecycleEngine{
		payments:  payments,
		policies:  policies,
		reminders: reminders,
		events:    events,
		logger:    logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
		loc:       opts.Location,
		horizon:   opts.Horizon,
		workers:   opts.Workers,
	}
	if e.now == nil {
		e.now = systemClock
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.horizon <= 0 {
		e.horizon = DefaultUpcomingHorizon
	}
	if e.workers < 1 {
		e.workers = 1
	}
	return e
}

// RunDailyCycle runs the four phases in order against a single clock reading.
// The first failing phase stops the cycle and is returned as a *PhaseError.
func (e *LifecycleEngine) RunDailyCycle(ctx context.Context) (*CycleResult, error) {
	now := e.now()
	result := &CycleResult{StartedAt: now}
	e.logger.Info("starting daily payment lifecycle cycle", "as_of", now)

	phases := []struct {
		name string
		run  func(context.Context, time.Time) (*PhaseResult, error)
	}{
		{PhaseIdentifyUpcoming, func(ctx context.Context, now time.Time) (*PhaseResult, error) {
			return e.identifyUpcoming(ctx, now, e.horizon)
		}},
		{PhaseMarkOverdue, e.markOverdue},
		{PhaseCalculateDaysOverdue, e.calculateDaysOverdue},
		{PhaseFlagSuspension, e.flagForSuspension},
	}

	for _, phase := range phases {
		res, err := e.runPhase(ctx, phase.name, now, phase.run)
		if res != nil {
			result.Phases = append(result.Phases, res)
		}
		if err != nil {
			e.metrics.PhaseFailed(phase.name)
			e.logger.Error("lifecycle phase failed, aborting remaining phases", "phase", phase.name, "error", err)
			result.FinishedAt = e.now()
			return result, &PhaseError{Phase: phase.name, Err: err}
		}
	}

	result.FinishedAt = e.now()
	e.logger.Info("completed daily payment lifecycle cycle", "duration", result.FinishedAt.Sub(result.StartedAt))
	return result, nil
}

// IdentifyUpcomingPayments promotes SCHEDULED payments due within horizon to
// UPCOMING and UPCOMING payments due today to DUE_TODAY. Payments whose due
// day already passed are moved the same way without a reminder.
func (e *LifecycleEngine) IdentifyUpcomingPayments(ctx context.Context, horizon time.Duration) (*PhaseResult, error) {
	return e.runPhase(ctx, PhaseIdentifyUpcoming, e.now(), func(ctx context.Context, now time.Time) (*PhaseResult, error) {
		return e.identifyUpcoming(ctx, now, horizon)
	})
}

// MarkOverduePayments moves DUE_TODAY payments whose due day has elapsed to OVERDUE.
func (e *LifecycleEngine) MarkOverduePayments(ctx context.Context) (*PhaseResult, error) {
	return e.runPhase(ctx, PhaseMarkOverdue, e.now(), e.markOverdue)
}

// CalculateDaysOverdue refreshes daysOverdue of delinquent payments and escalates them.
func (e *LifecycleEngine) CalculateDaysOverdue(ctx context.Context) (*PhaseResult, error) {
	return e.runPhase(ctx, PhaseCalculateDaysOverdue, e.now(), e.calculateDaysOverdue)
}

// FlagAccountsForSuspension moves GRACE_PERIOD payments past the grace period to SUSPENSION_PENDING.
func (e *LifecycleEngine) FlagAccountsForSuspension(ctx context.Context) (*PhaseResult, error) {
	return e.runPhase(ctx, PhaseFlagSuspension, e.now(), e.flagForSuspension)
}

func (e *LifecycleEngine) runPhase(
	ctx context.Context,
	phase string,
	now time.Time,
	run func(context.Context, time.Time) (*PhaseResult, error),
) (res *PhaseResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in phase: %v", r)
		}
	}()

	res, err = run(ctx, now)
	if res != nil {
		res.Phase = phase
		e.logger.Info("lifecycle phase finished",
			"phase", phase,
			"evaluated", res.Evaluated,
			"transitioned", res.Transitioned,
			"reminders_sent", res.RemindersSent,
			"failed", res.Failed,
		)
	}
	return res, err
}

// step is one payment's planned transition and the reminder that follows it.
// An empty reminder means the transition is silent.
type step struct {
	payment  domain.Payment
	to       domain.PaymentStatus
	reason   string
	reminder domain.ReminderType
}

type phaseCounters struct {
	transitioned atomic.Int64
	reminders    atomic.Int64
	failed       atomic.Int64
	skipped      atomic.Int64
}

func (c *phaseCounters) fill(res *PhaseResult) {
	res.Transitioned = int(c.transitioned.Load())
	res.RemindersSent = int(c.reminders.Load())
	res.Failed = int(c.failed.Load())
	res.Skipped = int(c.skipped.Load())
}

func (e *LifecycleEngine) identifyUpcoming(ctx context.Context, now time.Time, horizon time.Duration) (*PhaseResult, error) {
	if horizon <= 0 {
		horizon = e.horizon
	}
	windowEnd := now.Add(horizon)
	startOfToday := domain.StartOfDay(now, e.loc)
	startOfTomorrow := startOfToday.AddDate(0, 0, 1)

	// Neither set has a lower bound, so payments stranded by a missed run
	// or created with a past due date still walk forward one step per run.
	// Both sets are read before anything changes so a payment moves at most once.
	scheduled, err := e.payments.ListPayments(ctx, store.PaymentFilter{
		Statuses: []domain.PaymentStatus{domain.PaymentStatusScheduled},
		DueTo:    &windowEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("load scheduled payments: %w", err)
	}
	upcoming, err := e.payments.ListPayments(ctx, store.PaymentFilter{
		Statuses:  []domain.PaymentStatus{domain.PaymentStatusUpcoming},
		DueBefore: &startOfTomorrow,
	})
	if err != nil {
		return nil, fmt.Errorf("load upcoming payments: %w", err)
	}

	steps := make([]step, 0, len(scheduled)+len(upcoming))
	for _, p := range scheduled {
		s := step{p, domain.PaymentStatusUpcoming, domain.ReasonWithinReminderWindow, domain.ReminderUpcomingPayment}
		if p.DueDate.Before(startOfToday) {
			s.reason, s.reminder = domain.ReasonCatchUp, ""
		}
		steps = append(steps, s)
	}
	for _, p := range upcoming {
		s := step{p, domain.PaymentStatusDueToday, domain.ReasonDueToday, domain.ReminderDueToday}
		if p.DueDate.Before(startOfToday) {
			s.reason, s.reminder = domain.ReasonCatchUp, ""
		}
		steps = append(steps, s)
	}
	return e.applySteps(ctx, now, steps), nil
}

func (e *LifecycleEngine) markOverdue(ctx context.Context, now time.Time) (*PhaseResult, error) {
	startOfToday := domain.StartOfDay(now, e.loc)
	due, err := e.payments.ListPayments(ctx, store.PaymentFilter{
		Statuses:  []domain.PaymentStatus{domain.PaymentStatusDueToday},
		DueBefore: &startOfToday,
	})
	if err != nil {
		return nil, fmt.Errorf("load due payments: %w", err)
	}

	steps := make([]step, 0, len(due))
	for _, p := range due {
		steps = append(steps, step{p, domain.PaymentStatusOverdue, domain.ReasonDatePassed, domain.ReminderOverdue})
	}
	return e.applySteps(ctx, now, steps), nil
}

func (e *LifecycleEngine) applySteps(ctx context.Context, now time.Time, steps []step) *PhaseResult {
	res := &PhaseResult{Evaluated: len(steps)}
	var c phaseCounters
	byID := make(map[string]step, len(steps))
	payments := make([]domain.Payment, 0, len(steps))
	for _, s := range steps {
		byID[s.payment.ID] = s
		payments = append(payments, s.payment)
	}

	e.forEachPayment(ctx, payments, &c, func(ctx context.Context, p domain.Payment) error {
		s := byID[p.ID]
		advanced, err := e.advance(ctx, &p, s.to, s.reason, now)
		if err != nil {
			return err
		}
		if !advanced {
			c.skipped.Add(1)
			return nil
		}
		c.transitioned.Add(1)
		if s.reminder == "" {
			return nil
		}
		return e.remind(ctx, p, s.reminder, &c)
	})

	c.fill(res)
	return res
}

func (e *LifecycleEngine) calculateDaysOverdue(ctx context.Context, now time.Time) (*PhaseResult, error) {
	policy, err := e.policies.CurrentGracePeriodConfig(ctx)
	if err != nil {
		return nil, err
	}
	delinquent, err := e.payments.ListPayments(ctx, store.PaymentFilter{Statuses: domain.DelinquentStatuses})
	if err != nil {
		return nil, fmt.Errorf("load delinquent payments: %w", err)
	}

	res := &PhaseResult{Evaluated: len(delinquent)}
	var c phaseCounters
	e.forEachPayment(ctx, delinquent, &c, func(ctx context.Context, p domain.Payment) error {
		days := domain.DaysOverdue(p.DueDate, now, e.loc)
		if err := e.payments.UpdateDaysOverdue(ctx, p.ID, days); err != nil {
			return fmt.Errorf("update days overdue: %w", err)
		}
		p.DaysOverdue = days

		switch p.Status {
		case domain.PaymentStatusOverdue:
			if days < GraceEscalationDays {
				return nil
			}
			advanced, err := e.advance(ctx, &p, domain.PaymentStatusGracePeriod, domain.ReasonGracePeriod, now)
			if err != nil || !advanced {
				return err
			}
			c.transitioned.Add(1)
			return e.remind(ctx, p, domain.ReminderGracePeriod, &c)

		case domain.PaymentStatusGracePeriod:
			var errs []error
			if policy.ReminderFrequency > 0 && days%policy.ReminderFrequency == 0 {
				errs = append(errs, e.remind(ctx, p, domain.ReminderGracePeriod, &c))
			}
			if days >= policy.NumberOfDays-1 {
				errs = append(errs, e.remind(ctx, p, domain.ReminderFinalWarning, &c))
			}
			return errors.Join(errs...)
		}
		return nil
	})

	c.fill(res)
	return res, nil
}

func (e *LifecycleEngine) flagForSuspension(ctx context.Context, now time.Time) (*PhaseResult, error) {
	policy, err := e.policies.CurrentGracePeriodConfig(ctx)
	if err != nil {
		return nil, err
	}
	if !policy.AutoSuspendEnabled {
		e.logger.Info("automatic suspension disabled, skipping suspension flagging")
		return &PhaseResult{Disabled: true}, nil
	}

	inGrace, err := e.payments.ListPayments(ctx, store.PaymentFilter{
		Statuses: []domain.PaymentStatus{domain.PaymentStatusGracePeriod},
	})
	if err != nil {
		return nil, fmt.Errorf("load grace period payments: %w", err)
	}

	res := &PhaseResult{Evaluated: len(inGrace)}
	var c phaseCounters
	e.forEachPayment(ctx, inGrace, &c, func(ctx context.Context, p domain.Payment) error {
		if p.DaysOverdue < policy.NumberOfDays {
			return nil
		}
		advanced, err := e.advance(ctx, &p, domain.PaymentStatusSuspensionPending, domain.ReasonGraceExpired, now)
		if err != nil {
			return err
		}
		if !advanced {
			c.skipped.Add(1)
			return nil
		}
		c.transitioned.Add(1)

		published := e.events.PublishGracePeriodExpired(ctx, p)
		if !published.Delivered {
			e.logger.Warn("grace period expired event not delivered",
				"payment_id", p.ID,
				"installation_id", p.InstallationID,
				"dead_lettered", published.DeadLettered,
			)
		}
		return nil
	})

	c.fill(res)
	return res, nil
}

// forEachPayment runs fn for every payment with bounded parallelism. A
// payment appears once in payments, so no two workers touch the same row.
func (e *LifecycleEngine) forEachPayment(
	ctx context.Context,
	payments []domain.Payment,
	c *phaseCounters,
	fn func(context.Context, domain.Payment) error,
) {
	var g errgroup.Group
	g.SetLimit(e.workers)

	for _, p := range payments {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				if err != nil {
					c.failed.Add(1)
					e.logger.Error("failed to process payment",
						"payment_id", p.ID,
						"installation_id", p.InstallationID,
						"status", string(p.Status),
						"error", err,
					)
				}
			}()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fn(ctx, p)
		})
	}
	// Item errors are counted above; Wait only joins the workers.
	_ = g.Wait()
}

// advance moves p to the next status if the row still holds the status that
// was read. It reports false when the move is not allowed or lost a race.
func (e *LifecycleEngine) advance(ctx context.Context, p *domain.Payment, to domain.PaymentStatus, reason string, at time.Time) (bool, error) {
	from := p.Status
	if !from.CanAdvanceTo(to) {
		return false, nil
	}
	ok, err := e.payments.TransitionPaymentStatus(ctx, p.ID, from, to, reason, at)
	if err != nil {
		return false, fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	if !ok {
		e.logger.Info("payment status changed concurrently, skipping", "payment_id", p.ID, "expected_status", string(from))
		return false, nil
	}

	p.Status = to
	p.StatusReason = reason
	p.StatusUpdatedAt = &at
	e.metrics.StatusTransition(from, to)
	e.logger.Info("payment status updated",
		"payment_id", p.ID,
		"installation_id", p.InstallationID,
		"from", string(from),
		"to", string(to),
	)
	return true, nil
}

func (e *LifecycleEngine) remind(ctx context.Context, p domain.Payment, t domain.ReminderType, c *phaseCounters) error {
	outcome, err := e.reminders.Send(ctx, p, t)
	if err != nil {
		return fmt.Errorf("send %s reminder: %w", t, err)
	}
	if outcome == ReminderSent {
		c.reminders.Add(1)
	}
	return nil
}
