package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carebook/booking-engine/internal/appointment"
	"github.com/carebook/booking-engine/internal/clinic"
	"github.com/carebook/booking-engine/internal/metrics"
	"github.com/carebook/booking-engine/internal/payments"
)

type RouterConfig struct {
	Service    *appointment.Service
	ClinicRepo clinic.Repository
	Webhook    *payments.WebhookHandler
	Metrics    *metrics.EngineMetrics
	PgPool     *pgxpool.Pool
	Redis      *redis.Client
	Logger     zerolog.Logger
	Env        string
	Version    string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health and metrics endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Slot discovery
	r.Get("/doctors/{doctorID}/slots", slotsHandler(cfg.Service))

	// Booking and lifecycle
	r.Post("/appointments", bookHandler(cfg.Service, cfg.Metrics))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/approve", approveHandler(cfg.Service))
	r.Post("/appointments/{id}/reject", rejectHandler(cfg.Service))
	r.Post("/appointments/{id}/cancel", cancelHandler(cfg.Service))
	r.Post("/appointments/{id}/complete", completeHandler(cfg.Service))
	r.Post("/appointments/{id}/reschedule", rescheduleHandler(cfg.Service, cfg.Metrics))
	r.Get("/patients/{patientID}/appointments", listPatientAppointmentsHandler(cfg.Service))

	// Availability configuration
	r.Post("/clinics/{clinicID}/working-periods", createWorkingPeriodHandler(cfg.ClinicRepo))
	r.Post("/doctors/{doctorID}/appointment-types", createAppointmentTypeHandler(cfg.ClinicRepo))

	// Payment provider webhooks
	r.Post("/webhooks/payments", cfg.Webhook.Handle)

	return r
}
