/**
 * @description
 * HTTP handlers for the payment compliance service. Internal endpoints let an
 * external orchestrator drive the scheduled jobs and report received payments;
 * admin endpoints manage the delinquency policies and inspect payments.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solarpay/compliance-service/internal/app"
	"github.com/solarpay/compliance-service/internal/domain"
	"github.com/solarpay/compliance-service/internal/store"
)

// ReminderService is the manual side of the reminder dispatcher.
type ReminderService interface {
	ProcessFailedReminders(ctx context.Context) (*app.RetryResult, error)
	SendManualReminder(ctx context.Context, paymentID string, reminderType domain.ReminderType) (app.ReminderOutcome, error)
	ListReminders(ctx context.Context, paymentID string) ([]domain.PaymentReminder, error)
}

// PolicyService reads and updates the delinquency policies.
type PolicyService interface {
	CurrentGracePeriodConfig(ctx context.Context) (domain.GracePeriodConfig, error)
	CurrentReminderConfig(ctx context.Context) (domain.ReminderConfig, error)
	UpdateGracePeriodConfig(ctx context.Context, update domain.GracePeriodConfigUpdate, username string) (*domain.GracePeriodConfig, error)
	UpdateReminderConfig(ctx context.Context, update domain.ReminderConfigUpdate, username string) (*domain.ReminderConfig, error)
}

// PaymentService records and queries payments.
type PaymentService interface {
	RecordPayment(ctx context.Context, req app.RecordPaymentRequest) (*app.RecordPaymentResult, error)
	GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error)
	ListDelinquentPayments(ctx context.Context, limit, offset int) (*app.DelinquentPage, error)
	Receipt(ctx context.Context, paymentID string) (string, error)
	ReconcilePlan(ctx context.Context, planID string) (*domain.PaymentPlan, error)
}

// Services groups the application services the handlers call.
type Services struct {
	Lifecycle   app.CycleRunner
	ReminderJob app.ReminderJobRunner
	Reminders   ReminderService
	Redriver    app.EventRedriver
	Policies    PolicyService
	Payments    PaymentService
}

// Handler holds the application services that handlers will interact with.
type Handler struct {
	services Services
	logger   *slog.Logger
}

// NewHandler creates a new Handler with the given services.
func NewHandler(services Services, logger *slog.Logger) *Handler {
	return &Handler{services: services, logger: logger}
}

type recordPaymentBody struct {
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id"`
	PaymentMethod string          `json:"payment_method"`
}

type sendReminderBody struct {
	ReminderType string `json:"reminder_type"`
}

type sendReminderResponse struct {
	PaymentID    string              `json:"payment_id"`
	ReminderType domain.ReminderType `json:"reminder_type"`
	Outcome      app.ReminderOutcome `json:"outcome"`
}

type cycleFailureResponse struct {
	Error string           `json:"error"`
	Cycle *app.CycleResult `json:"cycle,omitempty"`
}

func (h *Handler) handleRunLifecycle(w http.ResponseWriter, r *http.Request) {
	result, err := h.services.Lifecycle.RunDailyCycle(r.Context())
	if err != nil {
		h.logger.Error("lifecycle cycle failed", "error", err)
		respondWithJSON(w, http.StatusInternalServerError, cycleFailureResponse{Error: err.Error(), Cycle: result})
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleDispatchReminders(w http.ResponseWriter, r *http.Request) {
	result, err := h.services.ReminderJob.DispatchReminders(r.Context())
	if err != nil {
		h.writeServiceError(w, "dispatch reminders", err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRetryReminders(w http.ResponseWriter, r *http.Request) {
	result, err := h.services.Reminders.ProcessFailedReminders(r.Context())
	if err != nil {
		h.writeServiceError(w, "retry failed reminders", err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRedriveEvents(w http.ResponseWriter, r *http.Request) {
	result, err := h.services.Redriver.Redrive(r.Context())
	if err != nil {
		h.writeServiceError(w, "redrive events", err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := idParam(w, r, "payment")
	if !ok {
		return
	}

	var body recordPaymentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	result, err := h.services.Payments.RecordPayment(r.Context(), app.RecordPaymentRequest{
		PaymentID:     paymentID,
		Amount:        body.Amount,
		TransactionID: body.TransactionID,
		PaymentMethod: body.PaymentMethod,
	})
	if err != nil {
		h.writeServiceError(w, "record payment", err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetGracePeriodConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.services.Policies.CurrentGracePeriodConfig(r.Context())
	if err != nil {
		h.writeServiceError(w, "get grace period config", err)
		return
	}
	respondWithJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleUpdateGracePeriodConfig(w http.ResponseWriter, r *http.Request) {
	var update domain.GracePeriodConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	username, _ := AdminFromContext(r.Context())
	cfg, err := h.services.Policies.UpdateGracePeriodConfig(r.Context(), update, username)
	if err != nil {
		h.writeServiceError(w, "update grace period config", err)
		return
	}
	respondWithJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleGetReminderConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.services.Policies.CurrentReminderConfig(r.Context())
	if err != nil {
		h.writeServiceError(w, "get reminder config", err)
		return
	}
	respondWithJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleUpdateReminderConfig(w http.ResponseWriter, r *http.Request) {
	var update domain.ReminderConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	username, _ := AdminFromContext(r.Context())
	cfg, err := h.services.Policies.UpdateReminderConfig(r.Context(), update, username)
	if err != nil {
		h.writeServiceError(w, "update reminder config", err)
		return
	}
	respondWithJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleListDelinquentPayments(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	page, err := h.services.Payments.ListDelinquentPayments(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, "list delinquent payments", err)
		return
	}
	respondWithJSON(w, http.StatusOK, page)
}

func (h *Handler) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := idParam(w, r, "payment")
	if !ok {
		return
	}
	payment, err := h.services.Payments.GetPayment(r.Context(), paymentID)
	if err != nil {
		h.writeServiceError(w, "get payment", err)
		return
	}
	respondWithJSON(w, http.StatusOK, payment)
}

func (h *Handler) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := idParam(w, r, "payment")
	if !ok {
		return
	}
	receipt, err := h.services.Payments.Receipt(r.Context(), paymentID)
	if err != nil {
		h.writeServiceError(w, "render receipt", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(receipt))
}

func (h *Handler) handleListReminders(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := idParam(w, r, "payment")
	if !ok {
		return
	}
	reminders, err := h.services.Reminders.ListReminders(r.Context(), paymentID)
	if err != nil {
		h.writeServiceError(w, "list reminders", err)
		return
	}
	if reminders == nil {
		reminders = []domain.PaymentReminder{}
	}
	respondWithJSON(w, http.StatusOK, reminders)
}

func (h *Handler) handleSendReminder(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := idParam(w, r, "payment")
	if !ok {
		return
	}

	var body sendReminderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	reminderType, err := app.ParseReminderType(body.ReminderType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.services.Reminders.SendManualReminder(r.Context(), paymentID, reminderType)
	if err != nil {
		h.writeServiceError(w, "send reminder", err)
		return
	}
	respondWithJSON(w, http.StatusOK, sendReminderResponse{
		PaymentID:    paymentID,
		ReminderType: reminderType,
		Outcome:      outcome,
	})
}

func (h *Handler) handleReconcilePlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := idParam(w, r, "plan")
	if !ok {
		return
	}
	plan, err := h.services.Payments.ReconcilePlan(r.Context(), planID)
	if err != nil {
		h.writeServiceError(w, "reconcile plan", err)
		return
	}
	respondWithJSON(w, http.StatusOK, plan)
}

// writeServiceError maps application errors onto HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, operation string, err error) {
	switch {
	case errors.Is(err, store.ErrPaymentNotFound),
		errors.Is(err, store.ErrPlanNotFound),
		errors.Is(err, store.ErrCustomerNotFound),
		errors.Is(err, store.ErrReminderNotFound),
		errors.Is(err, store.ErrConfigNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrPolicyValidation),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, app.ErrUnknownReminderType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrPaymentAlreadyPaid),
		errors.Is(err, domain.ErrStatusConflict),
		errors.Is(err, domain.ErrPaymentUnpaid),
		errors.Is(err, store.ErrConfigVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", "operation", operation, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

// idParam reads the {id} URL parameter, which must be a UUID.
func idParam(w http.ResponseWriter, r *http.Request, kind string) (string, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s id", kind))
		return "", false
	}
	return id.String(), true
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func writeError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
