package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/solarpay/compliance-service/internal/app"
	"github.com/solarpay/compliance-service/internal/domain"
	"github.com/solarpay/compliance-service/internal/store"
)

const (
	testInternalKey = "internal-secret"
	testJWTSecret   = "admin-secret"
	testPaymentID   = "7b0f6a4e-3c2d-4f8e-9a1b-2c3d4e5f6a7b"
)

type stubLifecycle struct {
	err error
}

func (s stubLifecycle) RunDailyCycle(ctx context.Context) (*app.CycleResult, error) {
	return &app.CycleResult{Phases: []*app.PhaseResult{{Phase: app.PhaseIdentifyUpcoming}}}, s.err
}

type stubReminderJob struct{}

func (stubReminderJob) DispatchReminders(ctx context.Context) (*app.DispatchResult, error) {
	return &app.DispatchResult{Sent: 2}, nil
}

type stubReminders struct {
	sentType domain.ReminderType
	err      error
}

func (s *stubReminders) ProcessFailedReminders(ctx context.Context) (*app.RetryResult, error) {
	return &app.RetryResult{Sent: 1}, nil
}

func (s *stubReminders) SendManualReminder(ctx context.Context, paymentID string, reminderType domain.ReminderType) (app.ReminderOutcome, error) {
	s.sentType = reminderType
	if s.err != nil {
		return "", s.err
	}
	return app.ReminderSent, nil
}

func (s *stubReminders) ListReminders(ctx context.Context, paymentID string) ([]domain.PaymentReminder, error) {
	return nil, nil
}

type stubRedriver struct{}

func (stubRedriver) Redrive(ctx context.Context) (*app.RedriveResult, error) {
	return &app.RedriveResult{}, nil
}

type stubPolicies struct {
	updatedBy string
	err       error
}

func (s *stubPolicies) CurrentGracePeriodConfig(ctx context.Context) (domain.GracePeriodConfig, error) {
	return domain.DefaultGracePeriodConfig(), nil
}

func (s *stubPolicies) CurrentReminderConfig(ctx context.Context) (domain.ReminderConfig, error) {
	return domain.DefaultReminderConfig(), nil
}

func (s *stubPolicies) UpdateGracePeriodConfig(ctx context.Context, update domain.GracePeriodConfigUpdate, username string) (*domain.GracePeriodConfig, error) {
	s.updatedBy = username
	if s.err != nil {
		return nil, s.err
	}
	cfg := update.Apply(domain.DefaultGracePeriodConfig())
	cfg.UpdatedBy = username
	return &cfg, nil
}

func (s *stubPolicies) UpdateReminderConfig(ctx context.Context, update domain.ReminderConfigUpdate, username string) (*domain.ReminderConfig, error) {
	s.updatedBy = username
	if s.err != nil {
		return nil, s.err
	}
	cfg := update.Apply(domain.DefaultReminderConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type stubPayments struct {
	recorded app.RecordPaymentRequest
	err      error
	limit    int
	offset   int
}

func (s *stubPayments) RecordPayment(ctx context.Context, req app.RecordPaymentRequest) (*app.RecordPaymentResult, error) {
	s.recorded = req
	if s.err != nil {
		return nil, s.err
	}
	return &app.RecordPaymentResult{Payment: &domain.Payment{ID: req.PaymentID, Status: domain.PaymentStatusPaid}}, nil
}

func (s *stubPayments) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Payment{ID: paymentID, Status: domain.PaymentStatusOverdue}, nil
}

func (s *stubPayments) ListDelinquentPayments(ctx context.Context, limit, offset int) (*app.DelinquentPage, error) {
	s.limit, s.offset = limit, offset
	return &app.DelinquentPage{Limit: limit, Offset: offset}, nil
}

func (s *stubPayments) Receipt(ctx context.Context, paymentID string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "PAYMENT RECEIPT\n", nil
}

func (s *stubPayments) ReconcilePlan(ctx context.Context, planID string) (*domain.PaymentPlan, error) {
	return &domain.PaymentPlan{ID: planID}, nil
}

type testServer struct {
	router    http.Handler
	reminders *stubReminders
	policies  *stubPolicies
	payments  *stubPayments
}

func newTestServer(lifecycleErr error) *testServer {
	ts := &testServer{
		reminders: &stubReminders{},
		policies:  &stubPolicies{},
		payments:  &stubPayments{},
	}
	handler := NewHandler(Services{
		Lifecycle:   stubLifecycle{err: lifecycleErr},
		ReminderJob: stubReminderJob{},
		Reminders:   ts.reminders,
		Redriver:    stubRedriver{},
		Policies:    ts.policies,
		Payments:    ts.payments,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts.router = NewRouter(handler, RouterConfig{
		InternalAPIKey: testInternalKey,
		AdminJWTSecret: testJWTSecret,
		Gatherer:       prometheus.NewRegistry(),
	})
	return ts
}

func adminToken(t *testing.T, method jwt.SigningMethod, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func internalHeaders() map[string]string {
	return map[string]string{"X-Internal-API-Key": testInternalKey}
}

func adminHeaders(t *testing.T) map[string]string {
	return map[string]string{"Authorization": "Bearer " + adminToken(t, jwt.SigningMethodHS256, testJWTSecret, "ops-admin")}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(nil)
	if rec := ts.do(t, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
}

func TestInternalAuth(t *testing.T) {
	ts := newTestServer(nil)

	if rec := ts.do(t, http.MethodPost, "/internal/reminders/dispatch", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}
	wrong := map[string]string{"X-Internal-API-Key": "nope"}
	if rec := ts.do(t, http.MethodPost, "/internal/reminders/dispatch", "", wrong); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rec.Code)
	}

	rec := ts.do(t, http.MethodPost, "/internal/reminders/dispatch", "", internalHeaders())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var result app.DispatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Sent != 2 {
		t.Fatalf("expected dispatch result to be returned, got %+v", result)
	}
}

func TestRunLifecycle_ReportsPhaseFailure(t *testing.T) {
	ts := newTestServer(&app.PhaseError{Phase: app.PhaseMarkOverdue, Err: errors.New("db down")})

	rec := ts.do(t, http.MethodPost, "/internal/lifecycle/run", "", internalHeaders())
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body cycleFailureResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(body.Error, app.PhaseMarkOverdue) || body.Cycle == nil {
		t.Fatalf("expected failed phase and partial cycle, got %+v", body)
	}
}

func TestRecordPayment(t *testing.T) {
	ts := newTestServer(nil)

	rec := ts.do(t, http.MethodPost, "/internal/payments/"+testPaymentID+"/record",
		`{"amount":"150.50","transaction_id":"tx-1","payment_method":"CARD"}`, internalHeaders())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ts.payments.recorded.PaymentID != testPaymentID || !ts.payments.recorded.Amount.Equal(decimal.RequireFromString("150.50")) {
		t.Fatalf("unexpected request passed to service %+v", ts.payments.recorded)
	}

	if rec := ts.do(t, http.MethodPost, "/internal/payments/not-a-uuid/record", `{"amount":1}`, internalHeaders()); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid id, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/internal/payments/"+testPaymentID+"/record", `{`, internalHeaders()); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid body, got %d", rec.Code)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", store.ErrPaymentNotFound, http.StatusNotFound},
		{"invalid amount", domain.ErrInvalidAmount, http.StatusBadRequest},
		{"already paid", domain.ErrPaymentAlreadyPaid, http.StatusConflict},
		{"status conflict", domain.ErrStatusConflict, http.StatusConflict},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(nil)
			ts.payments.err = tt.err
			rec := ts.do(t, http.MethodPost, "/internal/payments/"+testPaymentID+"/record", `{"amount":10}`, internalHeaders())
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestAdminAuth(t *testing.T) {
	ts := newTestServer(nil)

	if rec := ts.do(t, http.MethodGet, "/admin/config/grace-period", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	forged := map[string]string{"Authorization": "Bearer " + adminToken(t, jwt.SigningMethodHS256, "other-secret", "ops-admin")}
	if rec := ts.do(t, http.MethodGet, "/admin/config/grace-period", "", forged); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a token signed with another secret, got %d", rec.Code)
	}
	noSubject := map[string]string{"Authorization": "Bearer " + adminToken(t, jwt.SigningMethodHS256, testJWTSecret, "")}
	if rec := ts.do(t, http.MethodGet, "/admin/config/grace-period", "", noSubject); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a token without subject, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/admin/config/grace-period", "", adminHeaders(t)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with a valid token, got %d", rec.Code)
	}
}

func TestUpdatePolicies_RecordsAdminAndMapsValidation(t *testing.T) {
	ts := newTestServer(nil)

	rec := ts.do(t, http.MethodPut, "/admin/config/grace-period", `{"number_of_days":10}`, adminHeaders(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ts.policies.updatedBy != "ops-admin" {
		t.Fatalf("expected token subject as actor, got %q", ts.policies.updatedBy)
	}

	rec = ts.do(t, http.MethodPut, "/admin/config/reminders",
		`{"first_reminder_days":5,"second_reminder_days":3,"final_reminder_days":7}`, adminHeaders(t))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-ascending days, got %d", rec.Code)
	}

	ts.policies.err = store.ErrConfigVersionConflict
	rec = ts.do(t, http.MethodPut, "/admin/config/grace-period", `{}`, adminHeaders(t))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on version conflict, got %d", rec.Code)
	}
}

func TestSendReminder(t *testing.T) {
	ts := newTestServer(nil)
	path := "/admin/payments/" + testPaymentID + "/reminders"

	rec := ts.do(t, http.MethodPost, path, `{"reminder_type":"FINAL_WARNING"}`, adminHeaders(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body sendReminderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Outcome != app.ReminderSent || ts.reminders.sentType != domain.ReminderFinalWarning {
		t.Fatalf("unexpected response %+v", body)
	}

	if rec := ts.do(t, http.MethodPost, path, `{"reminder_type":"LATE"}`, adminHeaders(t)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown reminder type, got %d", rec.Code)
	}

	ts.reminders.err = domain.ErrPaymentAlreadyPaid
	if rec := ts.do(t, http.MethodPost, path, `{"reminder_type":"OVERDUE"}`, adminHeaders(t)); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a paid payment, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, path, "", adminHeaders(t))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty reminder list, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestListDelinquentPayments_ParsesPaging(t *testing.T) {
	ts := newTestServer(nil)

	rec := ts.do(t, http.MethodGet, "/admin/payments/delinquent?limit=20&offset=40", "", adminHeaders(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ts.payments.limit != 20 || ts.payments.offset != 40 {
		t.Fatalf("unexpected paging %d/%d", ts.payments.limit, ts.payments.offset)
	}

	if rec := ts.do(t, http.MethodGet, "/admin/payments/delinquent?limit=ten", "", adminHeaders(t)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-numeric limit, got %d", rec.Code)
	}
}

func TestReceipt(t *testing.T) {
	ts := newTestServer(nil)
	path := "/admin/payments/" + testPaymentID + "/receipt"

	rec := ts.do(t, http.MethodGet, path, "", adminHeaders(t))
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("expected plain text receipt, got %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	ts.payments.err = domain.ErrPaymentUnpaid
	if rec := ts.do(t, http.MethodGet, path, "", adminHeaders(t)); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for an unpaid payment, got %d", rec.Code)
	}
}
