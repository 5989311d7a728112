package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/solarpay/compliance-service/internal/domain"
)

// PlanLedger keeps a plan's remaining amount in step with recorded payments.
// The remaining amount never drops below zero.
type PlanLedger struct {
	plans  PlanRepository
	logger *slog.Logger
}

func NewPlanLedger(plans PlanRepository, logger *slog.Logger) *PlanLedger {
	return &PlanLedger{plans: plans, logger: logger}
}

// ApplyPayment subtracts amount from the plan's remaining amount.
func (l *PlanLedger) ApplyPayment(ctx context.Context, planID string, amount decimal.Decimal) (*domain.PaymentPlan, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	plan, err := l.plans.ApplyPaymentToPlan(ctx, planID, amount)
	if err != nil {
		return nil, fmt.Errorf("apply payment to plan %s: %w", planID, err)
	}
	l.logger.Info("payment applied to plan",
		"payment_plan_id", plan.ID,
		"amount", amount.StringFixed(2),
		"remaining_amount", plan.RemainingAmount.StringFixed(2),
	)
	return plan, nil
}

// Reconcile recomputes the remaining amount from the recorded payments of the plan.
func (l *PlanLedger) Reconcile(ctx context.Context, planID string) (*domain.PaymentPlan, error) {
	plan, err := l.plans.GetPaymentPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	paid, err := l.plans.SumRecordedAmount(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("sum recorded payments: %w", err)
	}

	remaining := domain.ClampRemaining(plan.TotalAmount.Sub(paid))
	if remaining.Equal(plan.RemainingAmount) {
		return plan, nil
	}
	updated, err := l.plans.SetPlanRemaining(ctx, planID, remaining)
	if err != nil {
		return nil, err
	}
	l.logger.Warn("plan remaining amount corrected",
		"payment_plan_id", planID,
		"previous", plan.RemainingAmount.StringFixed(2),
		"remaining_amount", updated.RemainingAmount.StringFixed(2),
	)
	return updated, nil
}
