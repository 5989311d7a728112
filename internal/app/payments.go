/**
 * @description
 * PaymentService records payments received from outside the lifecycle engine
 * and serves payment queries. Recording is the only path that leaves the
 * delinquency pipeline: it moves a payment to PAID or PARTIALLY_PAID, updates
 * the plan ledger, and emits the events service control depends on.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solarpay/compliance-service/internal/domain"
	"github.com/solarpay/compliance-service/internal/store"
)

// PaymentEvents is the part of the event publisher used when recording payments.
type PaymentEvents interface {
	PublishPaymentReceived(ctx context.Context, payment domain.Payment) PublishResult
	PublishPlanUpdated(ctx context.Context, plan domain.PaymentPlan) PublishResult
}

// RecordPaymentRequest is a payment received for one installment.
type RecordPaymentRequest struct {
	PaymentID     string          `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id"`
	PaymentMethod string          `json:"payment_method"`
}

// RecordPaymentResult is everything that changed while recording a payment.
type RecordPaymentResult struct {
	Payment         *domain.Payment     `json:"payment"`
	Plan            *domain.PaymentPlan `json:"plan"`
	NextPayment     *domain.Payment     `json:"next_payment,omitempty"`
	PaymentReceived *PublishResult      `json:"payment_received_event,omitempty"`
	PlanUpdated     *PublishResult      `json:"plan_updated_event,omitempty"`
}

// DelinquentPage is one page of delinquent payments.
type DelinquentPage struct {
	Payments []domain.DelinquentPayment `json:"payments"`
	Total    int                        `json:"total"`
	Limit    int                        `json:"limit"`
	Offset   int                        `json:"offset"`
}

// PaymentServiceDeps groups the collaborators of a PaymentService.
type PaymentServiceDeps struct {
	Payments PaymentRepository
	Plans    PlanRepository
	Contacts ContactRepository
	Ledger   *PlanLedger
	Events   PaymentEvents
	Policies PolicyStore
	Logger   *slog.Logger
	Now      Clock
	Location *time.Location
}

// PaymentService records and queries payments.
type PaymentService struct {
	payments PaymentRepository
	plans    PlanRepository
	contacts ContactRepository
	ledger   *PlanLedger
	events   PaymentEvents
	policies PolicyStore
	logger   *slog.Logger
	now      Clock
	loc      *time.Location
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(deps PaymentServiceDeps) *PaymentService {
	s := &PaymentService{
		payments: deps.Payments,
		plans:    deps.Plans,
		contacts: deps.Contacts,
		ledger:   deps.Ledger,
		events:   deps.Events,
		policies: deps.Policies,
		logger:   deps.Logger,
		now:      deps.Now,
		loc:      deps.Location,
	}
	if s.now == nil {
		s.now = systemClock
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s
}

// RecordPayment applies a received amount to an installment.
func (s *PaymentService) RecordPayment(ctx context.Context, req RecordPaymentRequest) (*RecordPaymentResult, error) {
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	payment, err := s.payments.GetPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status == domain.PaymentStatusPaid {
		return nil, domain.ErrPaymentAlreadyPaid
	}
	if payment.Status.IsSettled() {
		return nil, fmt.Errorf("%w: payment is %s", domain.ErrStatusConflict, payment.Status)
	}

	log := s.logger.With("payment_id", payment.ID, "installation_id", payment.InstallationID)
	log.Info("processing payment", "amount", req.Amount.StringFixed(2), "status", string(payment.Status))

	paidTotal := payment.AmountPaid.Add(req.Amount)
	status, reason := domain.PaymentStatusPartiallyPaid, domain.ReasonPartiallyPaid
	if paidTotal.GreaterThanOrEqual(payment.Amount) {
		status, reason = domain.PaymentStatusPaid, domain.ReasonPaidInFull
	}

	recorded, err := s.payments.RecordPayment(ctx, store.RecordedPayment{
		PaymentID:      payment.ID,
		ExpectedStatus: payment.Status,
		Status:         status,
		Reason:         reason,
		AmountPaid:     paidTotal,
		PaidAt:         s.now(),
		TransactionID:  strings.TrimSpace(req.TransactionID),
		PaymentMethod:  strings.TrimSpace(req.PaymentMethod),
	})
	if err != nil {
		return nil, err
	}
	result := &RecordPaymentResult{Payment: recorded}

	plan, err := s.ledger.ApplyPayment(ctx, payment.PaymentPlanID, req.Amount)
	if err != nil {
		return result, err
	}
	result.Plan = plan

	if s.needsRestoration(ctx, *payment) {
		published := s.events.PublishPaymentReceived(ctx, *recorded)
		result.PaymentReceived = &published
		log.Info("payment received for suspended account, service restoration requested", "delivered", published.Delivered)
	}

	if !plan.RemainingAmount.IsPositive() {
		if plan.Status != domain.PlanStatusCompleted {
			completed, err := s.plans.SetPlanStatus(ctx, plan.ID, domain.PlanStatusCompleted)
			if err != nil {
				return result, fmt.Errorf("complete payment plan: %w", err)
			}
			result.Plan = completed
			log.Info("payment plan completed", "payment_plan_id", plan.ID)
		}
		published := s.events.PublishPlanUpdated(ctx, *result.Plan)
		result.PlanUpdated = &published
		return result, nil
	}

	next, err := s.ensureNextInstallment(ctx, *recorded, *plan)
	if err != nil {
		return result, fmt.Errorf("schedule next installment: %w", err)
	}
	result.NextPayment = next
	return result, nil
}

// needsRestoration reports whether service control has to be told about the
// payment: the installation is suspended or about to be.
func (s *PaymentService) needsRestoration(ctx context.Context, before domain.Payment) bool {
	if before.Status == domain.PaymentStatusSuspensionPending {
		return true
	}
	contact, err := s.contacts.GetCustomerContact(ctx, before.InstallationID)
	if err != nil {
		s.logger.Warn("failed to load installation status", "installation_id", before.InstallationID, "error", err)
		return false
	}
	return contact.InstallationStatus == domain.InstallationStatusSuspended
}

// ensureNextInstallment schedules the next installment when the plan has no
// SCHEDULED payment left. It returns nil when nothing was created.
func (s *PaymentService) ensureNextInstallment(ctx context.Context, paid domain.Payment, plan domain.PaymentPlan) (*domain.Payment, error) {
	scheduled, err := s.payments.CountPayments(ctx, store.PaymentFilter{
		PlanID:   plan.ID,
		Statuses: []domain.PaymentStatus{domain.PaymentStatusScheduled},
	})
	if err != nil {
		return nil, err
	}
	if scheduled > 0 {
		return nil, nil
	}

	nextDue := plan.Frequency.NextDueDate(paid.DueDate)
	dayStart := domain.StartOfDay(nextDue, s.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)
	existing, err := s.payments.CountPayments(ctx, store.PaymentFilter{
		PlanID:    plan.ID,
		DueFrom:   &dayStart,
		DueBefore: &dayEnd,
	})
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, nil
	}

	amount := plan.InstallmentAmount
	if amount.IsZero() || plan.RemainingAmount.LessThan(amount) {
		amount = plan.RemainingAmount
	}
	next, err := s.payments.CreatePayment(ctx, domain.Payment{
		InstallationID: plan.InstallationID,
		PaymentPlanID:  plan.ID,
		Amount:         amount,
		AmountPaid:     decimal.Zero,
		DueDate:        nextDue,
		Status:         domain.PaymentStatusScheduled,
		StatusReason:   domain.ReasonNextInstallment,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("next installment scheduled",
		"payment_id", next.ID,
		"payment_plan_id", plan.ID,
		"due_date", nextDue.Format(dueDateLayout),
		"amount", amount.StringFixed(2),
	)
	return next, nil
}

// GetPayment returns one payment.
func (s *PaymentService) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return s.payments.GetPayment(ctx, paymentID)
}

// ListDelinquentPayments pages through OVERDUE, GRACE_PERIOD and
// SUSPENSION_PENDING payments with the late fee each would accrue.
func (s *PaymentService) ListDelinquentPayments(ctx context.Context, limit, offset int) (*DelinquentPage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	filter := store.PaymentFilter{Statuses: domain.DelinquentStatuses}

	total, err := s.payments.CountPayments(ctx, filter)
	if err != nil {
		return nil, err
	}
	filter.Limit = limit
	filter.Offset = offset
	payments, err := s.payments.ListPayments(ctx, filter)
	if err != nil {
		return nil, err
	}
	policy, err := s.policies.CurrentGracePeriodConfig(ctx)
	if err != nil {
		return nil, err
	}

	page := &DelinquentPage{
		Payments: make([]domain.DelinquentPayment, 0, len(payments)),
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}
	for _, p := range payments {
		page.Payments = append(page.Payments, domain.DelinquentPayment{
			Payment: p,
			LateFee: policy.LateFeeFor(p.Outstanding()),
		})
	}
	return page, nil
}

// Receipt renders a plain text receipt for a paid or partially paid installment.
func (s *PaymentService) Receipt(ctx context.Context, paymentID string) (string, error) {
	payment, err := s.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return "", err
	}
	if payment.Status != domain.PaymentStatusPaid && payment.Status != domain.PaymentStatusPartiallyPaid {
		return "", domain.ErrPaymentUnpaid
	}
	customer := ""
	contact, err := s.contacts.GetCustomerContact(ctx, payment.InstallationID)
	switch {
	case err == nil:
		customer = contact.FullName
	case !errors.Is(err, store.ErrCustomerNotFound):
		return "", err
	}

	paidAt := ""
	if payment.PaidAt != nil {
		paidAt = payment.PaidAt.In(s.loc).Format(time.RFC3339)
	}

	var b strings.Builder
	b.WriteString("PAYMENT RECEIPT\n")
	b.WriteString("==============\n\n")
	fmt.Fprintf(&b, "Receipt ID: %s\n", payment.ID)
	fmt.Fprintf(&b, "Transaction ID: %s\n", payment.TransactionID)
	fmt.Fprintf(&b, "Date: %s\n\n", paidAt)
	fmt.Fprintf(&b, "Customer: %s\n", customer)
	fmt.Fprintf(&b, "Installation ID: %s\n\n", payment.InstallationID)
	fmt.Fprintf(&b, "Amount Paid: $%s\n", payment.AmountPaid.StringFixed(2))
	fmt.Fprintf(&b, "Payment Method: %s\n", payment.PaymentMethod)
	fmt.Fprintf(&b, "Status: %s\n\n", payment.Status)
	b.WriteString("Thank you for your payment!\n")
	return b.String(), nil
}

// ReconcilePlan recomputes a plan's remaining amount from recorded payments.
func (s *PaymentService) ReconcilePlan(ctx context.Context, planID string) (*domain.PaymentPlan, error) {
	return s.ledger.Reconcile(ctx, planID)
}
