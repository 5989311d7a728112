package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solarpay/compliance-service/internal/domain"
	"github.com/solarpay/compliance-service/internal/store"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type deadLetterRow struct {
	event  domain.DeadLetterEvent
	status string
}

// memStore is an in-memory repository with the same conditional update
// semantics as the SQL implementation.
type memStore struct {
	mu           sync.Mutex
	seq          int
	payments     map[string]*domain.Payment
	reminders    []*domain.PaymentReminder
	contacts     map[string]domain.CustomerContact
	plans        map[string]*domain.PaymentPlan
	grace        []domain.GracePeriodConfig
	reminderCfgs []domain.ReminderConfig
	deadLetters  []*deadLetterRow

	listErr    error
	contactErr error
	// afterList runs once the snapshot of ListPayments is taken.
	afterList func()
}

func newMemStore() *memStore {
	return &memStore{
		payments: make(map[string]*domain.Payment),
		contacts: make(map[string]domain.CustomerContact),
		plans:    make(map[string]*domain.PaymentPlan),
	}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *memStore) addPayment(p domain.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.payments[p.ID] = &cp
}

func (s *memStore) addContact(c domain.CustomerContact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.InstallationID] = c
}

func (s *memStore) addPlan(p domain.PaymentPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.plans[p.ID] = &cp
}

func (s *memStore) payment(id string) domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.payments[id]
}

func (s *memStore) setStatus(id string, status domain.PaymentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[id].Status = status
}

func (s *memStore) remindersFor(paymentID string, t domain.ReminderType) []domain.PaymentReminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PaymentReminder
	for _, r := range s.reminders {
		if r.PaymentID == paymentID && r.ReminderType == t {
			out = append(out, *r)
		}
	}
	return out
}

func (s *memStore) addReminder(r domain.PaymentReminder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := r
	s.reminders = append(s.reminders, &cp)
}

func (s *memStore) reminderByID(id string) domain.PaymentReminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reminders {
		if r.ID == id {
			return *r
		}
	}
	return domain.PaymentReminder{}
}

// PaymentRepository

func (s *memStore) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func matchesFilter(p *domain.Payment, f store.PaymentFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if p.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.PlanID != "" && p.PaymentPlanID != f.PlanID {
		return false
	}
	if f.DueFrom != nil && p.DueDate.Before(*f.DueFrom) {
		return false
	}
	if f.DueTo != nil && p.DueDate.After(*f.DueTo) {
		return false
	}
	if f.DueBefore != nil && !p.DueDate.Before(*f.DueBefore) {
		return false
	}
	return true
}

func (s *memStore) ListPayments(ctx context.Context, filter store.PaymentFilter) ([]domain.Payment, error) {
	s.mu.Lock()
	if s.listErr != nil {
		s.mu.Unlock()
		return nil, s.listErr
	}
	var out []domain.Payment
	for _, p := range s.payments {
		if matchesFilter(p, filter) {
			out = append(out, *p)
		}
	}
	hook := s.afterList
	s.afterList = nil
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			out = nil
		} else {
			out = out[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	if hook != nil {
		hook()
	}
	return out, nil
}

func (s *memStore) CountPayments(ctx context.Context, filter store.PaymentFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, p := range s.payments {
		if matchesFilter(p, filter) {
			count++
		}
	}
	return count, nil
}

func (s *memStore) TransitionPaymentStatus(ctx context.Context, paymentID string, from, to domain.PaymentStatus, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.StatusReason = reason
	p.StatusUpdatedAt = &at
	return true, nil
}

func (s *memStore) UpdateDaysOverdue(ctx context.Context, paymentID string, days int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[paymentID]; ok && p.Status.IsDelinquent() {
		p.DaysOverdue = days
	}
	return nil
}

func (s *memStore) RecordPayment(ctx context.Context, rec store.RecordedPayment) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[rec.PaymentID]
	if !ok || p.Status != rec.ExpectedStatus {
		return nil, domain.ErrStatusConflict
	}
	paidAt := rec.PaidAt
	p.Status = rec.Status
	p.StatusReason = rec.Reason
	p.StatusUpdatedAt = &paidAt
	p.AmountPaid = rec.AmountPaid
	p.PaidAt = &paidAt
	p.DaysOverdue = 0
	p.TransactionID = rec.TransactionID
	p.PaymentMethod = rec.PaymentMethod
	cp := *p
	return &cp, nil
}

func (s *memStore) CreatePayment(ctx context.Context, p domain.Payment) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	cp.ID = s.nextID("payment")
	cp.AmountPaid = decimal.Zero
	s.payments[cp.ID] = &cp
	out := cp
	return &out, nil
}

// ReminderRepository

func (s *memStore) HasReminderSince(ctx context.Context, paymentID string, reminderType domain.ReminderType, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasReminderLocked(paymentID, reminderType, since), nil
}

func (s *memStore) hasReminderLocked(paymentID string, reminderType domain.ReminderType, since time.Time) bool {
	for _, r := range s.reminders {
		if r.PaymentID == paymentID && r.ReminderType == reminderType && !r.SentDate.Before(since) {
			return true
		}
	}
	return false
}

func (s *memStore) ClaimReminders(ctx context.Context, rems []domain.PaymentReminder, since time.Time) ([]domain.PaymentReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(rems) == 0 || s.hasReminderLocked(rems[0].PaymentID, rems[0].ReminderType, since) {
		return nil, nil
	}
	out := make([]domain.PaymentReminder, 0, len(rems))
	for _, rem := range rems {
		cp := rem
		cp.ID = s.nextID("reminder")
		cp.DeliveryStatus = domain.DeliveryPending
		s.reminders = append(s.reminders, &cp)
		out = append(out, cp)
	}
	return out, nil
}

func (s *memStore) findReminderLocked(id string) *domain.PaymentReminder {
	for _, r := range s.reminders {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *memStore) MarkReminderSent(ctx context.Context, reminderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.findReminderLocked(reminderID)
	if r == nil {
		return store.ErrReminderNotFound
	}
	r.DeliveryStatus = domain.DeliverySent
	r.ErrorMessage = ""
	return nil
}

func (s *memStore) MarkReminderFailed(ctx context.Context, reminderID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.findReminderLocked(reminderID)
	if r == nil {
		return store.ErrReminderNotFound
	}
	r.DeliveryStatus = domain.DeliveryFailed
	r.ErrorMessage = reason
	return nil
}

func (s *memStore) ReleaseStaleReminders(ctx context.Context, claimedBefore time.Time, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	released := 0
	for _, r := range s.reminders {
		claimedAt := r.SentDate
		switch r.DeliveryStatus {
		case domain.DeliveryPending:
		case domain.DeliveryRetryScheduled:
			if r.LastRetryDate != nil {
				claimedAt = *r.LastRetryDate
			}
		default:
			continue
		}
		if claimedAt.Before(claimedBefore) {
			r.DeliveryStatus = domain.DeliveryFailed
			r.ErrorMessage = reason
			released++
		}
	}
	return released, nil
}

func (s *memStore) ListRetryableReminders(ctx context.Context, maxRetries int) ([]domain.PaymentReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PaymentReminder
	for _, r := range s.reminders {
		if r.DeliveryStatus == domain.DeliveryFailed && r.RetryCount < maxRetries {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) ClaimReminderRetry(ctx context.Context, reminderID string, maxRetries int, at time.Time) (*domain.PaymentReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.findReminderLocked(reminderID)
	if r == nil || r.DeliveryStatus != domain.DeliveryFailed || r.RetryCount >= maxRetries {
		return nil, nil
	}
	r.DeliveryStatus = domain.DeliveryRetryScheduled
	r.RetryCount++
	r.LastRetryDate = &at
	cp := *r
	return &cp, nil
}

func (s *memStore) ListRemindersByPayment(ctx context.Context, paymentID string) ([]domain.PaymentReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PaymentReminder
	for i := len(s.reminders) - 1; i >= 0; i-- {
		if s.reminders[i].PaymentID == paymentID {
			out = append(out, *s.reminders[i])
		}
	}
	return out, nil
}

// ContactRepository

func (s *memStore) GetCustomerContact(ctx context.Context, installationID string) (*domain.CustomerContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contactErr != nil {
		return nil, s.contactErr
	}
	c, ok := s.contacts[installationID]
	if !ok {
		return nil, store.ErrCustomerNotFound
	}
	return &c, nil
}

// PolicyRepository

func (s *memStore) LatestGracePeriodConfig(ctx context.Context) (*domain.GracePeriodConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.grace) == 0 {
		return nil, store.ErrConfigNotFound
	}
	cfg := s.grace[len(s.grace)-1]
	return &cfg, nil
}

func (s *memStore) EnsureGracePeriodConfig(ctx context.Context, def domain.GracePeriodConfig) (*domain.GracePeriodConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.grace) == 0 {
		def.ID = s.nextID("grace")
		def.Version = 1
		s.grace = append(s.grace, def)
	}
	cfg := s.grace[len(s.grace)-1]
	return &cfg, nil
}

func (s *memStore) UpdateGracePeriodConfig(ctx context.Context, cfg domain.GracePeriodConfig) (*domain.GracePeriodConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := len(s.grace) - 1
	if last < 0 || s.grace[last].ID != cfg.ID || s.grace[last].Version != cfg.Version {
		return nil, store.ErrConfigVersionConflict
	}
	cfg.Version++
	s.grace[last] = cfg
	return &cfg, nil
}

func (s *memStore) LatestReminderConfig(ctx context.Context) (*domain.ReminderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reminderCfgs) == 0 {
		return nil, store.ErrConfigNotFound
	}
	cfg := s.reminderCfgs[len(s.reminderCfgs)-1]
	return &cfg, nil
}

func (s *memStore) EnsureReminderConfig(ctx context.Context, def domain.ReminderConfig) (*domain.ReminderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reminderCfgs) == 0 {
		def.ID = s.nextID("reminder-config")
		def.Version = 1
		s.reminderCfgs = append(s.reminderCfgs, def)
	}
	cfg := s.reminderCfgs[len(s.reminderCfgs)-1]
	return &cfg, nil
}

func (s *memStore) UpdateReminderConfig(ctx context.Context, cfg domain.ReminderConfig) (*domain.ReminderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := len(s.reminderCfgs) - 1
	if last < 0 || s.reminderCfgs[last].ID != cfg.ID || s.reminderCfgs[last].Version != cfg.Version {
		return nil, store.ErrConfigVersionConflict
	}
	cfg.Version++
	s.reminderCfgs[last] = cfg
	return &cfg, nil
}

// PlanRepository

func (s *memStore) GetPaymentPlan(ctx context.Context, planID string) (*domain.PaymentPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return nil, store.ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ApplyPaymentToPlan(ctx context.Context, planID string, amount decimal.Decimal) (*domain.PaymentPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return nil, store.ErrPlanNotFound
	}
	p.RemainingAmount = domain.ClampRemaining(p.RemainingAmount.Sub(amount))
	cp := *p
	return &cp, nil
}

func (s *memStore) SetPlanRemaining(ctx context.Context, planID string, remaining decimal.Decimal) (*domain.PaymentPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return nil, store.ErrPlanNotFound
	}
	p.RemainingAmount = domain.ClampRemaining(remaining)
	cp := *p
	return &cp, nil
}

func (s *memStore) SetPlanStatus(ctx context.Context, planID string, status domain.PaymentPlanStatus) (*domain.PaymentPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return nil, store.ErrPlanNotFound
	}
	p.Status = status
	cp := *p
	return &cp, nil
}

func (s *memStore) SumRecordedAmount(ctx context.Context, planID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, p := range s.payments {
		if p.PaymentPlanID != planID {
			continue
		}
		if p.Status == domain.PaymentStatusPaid || p.Status == domain.PaymentStatusPartiallyPaid {
			sum = sum.Add(p.AmountPaid)
		}
	}
	return sum, nil
}

// DeadLetterRepository

func (s *memStore) SaveDeadLetter(ctx context.Context, ev domain.DeadLetterEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.deadLetters {
		if row.event.EventID == ev.EventID {
			return nil
		}
	}
	s.seq++
	ev.ID = int64(s.seq)
	s.deadLetters = append(s.deadLetters, &deadLetterRow{event: ev, status: "pending"})
	return nil
}

func (s *memStore) ClaimDeadLetters(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.DeadLetterEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DeadLetterEvent
	for _, row := range s.deadLetters {
		if len(out) >= limit {
			break
		}
		if row.status != "pending" {
			continue
		}
		row.status = "processing"
		row.event.Attempts++
		out = append(out, row.event)
	}
	return out, nil
}

func (s *memStore) MarkDeadLetterDelivered(ctx context.Context, id int64) error {
	return s.setDeadLetterStatus(id, "delivered", "")
}

func (s *memStore) MarkDeadLetterFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	return s.setDeadLetterStatus(id, "pending", reason)
}

func (s *memStore) setDeadLetterStatus(id int64, status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.deadLetters {
		if row.event.ID == id {
			row.status = status
			row.event.LastError = reason
			return nil
		}
	}
	return errors.New("dead letter not found")
}

func (s *memStore) deadLetterStatuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.deadLetters))
	for _, row := range s.deadLetters {
		out = append(out, row.status)
	}
	return out
}

// fakeNotifier records notifications and fails for configured recipients.
type fakeNotifier struct {
	mu      sync.Mutex
	sent    []domain.Notification
	err     error
	failFor map[string]error
	panics  bool
}

func (n *fakeNotifier) Send(ctx context.Context, msg domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.panics {
		panic("transport exploded")
	}
	if err, ok := n.failFor[msg.Recipient]; ok {
		return err
	}
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type publishedMessage struct {
	exchange   string
	routingKey string
	body       interface{}
}

// fakePublisher fails the first failures calls, or every call when err is set.
type fakePublisher struct {
	mu        sync.Mutex
	calls     int
	failures  int
	err       error
	panics    bool
	published []publishedMessage
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.panics {
		panic("broker exploded")
	}
	if p.err != nil {
		return p.err
	}
	if p.calls <= p.failures {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, publishedMessage{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *fakePublisher) byRoutingKey(key string) []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedMessage
	for _, m := range p.published {
		if m.routingKey == key {
			out = append(out, m)
		}
	}
	return out
}

// harness wires the services against one memStore and a movable clock.
type harness struct {
	store      *memStore
	notifier   *fakeNotifier
	publisher  *fakePublisher
	policies   *PolicyService
	dispatcher *ReminderDispatcher
	events     *PaymentEventPublisher
	engine     *LifecycleEngine
	ledger     *PlanLedger
	payments   *PaymentService
	now        time.Time
}

func newHarness(now time.Time) *harness {
	h := &harness{
		store:     newMemStore(),
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
		now:       now,
	}
	clock := func() time.Time { return h.now }
	logger := newTestLogger()

	h.policies = NewPolicyService(h.store, logger)
	h.dispatcher = NewReminderDispatcher(ReminderDispatcherDeps{
		Payments:  h.store,
		Reminders: h.store,
		Contacts:  h.store,
		Policies:  h.policies,
		Notifier:  h.notifier,
		Logger:    logger,
		Now:       clock,
		Location:  time.UTC,
	})
	h.events = NewPaymentEventPublisher(h.publisher, h.store, logger, EventPublisherOptions{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Now:          clock,
	})
	h.engine = NewLifecycleEngine(h.store, h.policies, h.dispatcher, h.events, logger, LifecycleOptions{
		Workers:  4,
		Location: time.UTC,
		Now:      clock,
	})
	h.ledger = NewPlanLedger(h.store, logger)
	h.payments = NewPaymentService(PaymentServiceDeps{
		Payments: h.store,
		Plans:    h.store,
		Contacts: h.store,
		Ledger:   h.ledger,
		Events:   h.events,
		Policies: h.policies,
		Logger:   logger,
		Now:      clock,
		Location: time.UTC,
	})
	return h
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func seedPayment(s *memStore, id string, status domain.PaymentStatus, due time.Time) {
	s.addContact(domain.CustomerContact{
		InstallationID:     "inst-" + id,
		InstallationStatus: domain.InstallationStatusActive,
		UserID:             "user-" + id,
		FullName:           "Ada Obi",
		Email:              id + "@example.com",
		Phone:              "+15550100",
	})
	s.addPayment(domain.Payment{
		ID:             id,
		InstallationID: "inst-" + id,
		PaymentPlanID:  "plan-1",
		Amount:         decimal.NewFromInt(150),
		AmountPaid:     decimal.Zero,
		DueDate:        due,
		Status:         status,
	})
}
