/**
 * @description
 * HTTP router setup for the payment compliance service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the credentials and metrics source of the router.
type RouterConfig struct {
	InternalAPIKey string
	AdminJWTSecret string
	Gatherer       prometheus.Gatherer
}

// NewRouter creates a new Chi router and registers the compliance routes.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Payment compliance service is healthy"))
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
		r.Post("/lifecycle/run", h.handleRunLifecycle)
		r.Post("/reminders/dispatch", h.handleDispatchReminders)
		r.Post("/reminders/retry", h.handleRetryReminders)
		r.Post("/events/redrive", h.handleRedriveEvents)
		r.Post("/payments/{id}/record", h.handleRecordPayment)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminAuthMiddleware(cfg.AdminJWTSecret))
		r.Get("/config/grace-period", h.handleGetGracePeriodConfig)
		r.Put("/config/grace-period", h.handleUpdateGracePeriodConfig)
		r.Get("/config/reminders", h.handleGetReminderConfig)
		r.Put("/config/reminders", h.handleUpdateReminderConfig)
		r.Get("/payments/delinquent", h.handleListDelinquentPayments)
		r.Get("/payments/{id}", h.handleGetPayment)
		r.Get("/payments/{id}/receipt", h.handleGetReceipt)
		r.Get("/payments/{id}/reminders", h.handleListReminders)
		r.Post("/payments/{id}/reminders", h.handleSendReminder)
		r.Post("/plans/{id}/reconcile", h.handleReconcilePlan)
	})

	return r
}
