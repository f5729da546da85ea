package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Scheduling   *scheduling.Service
	Conversation ConversationService
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Registry     *prometheus.Registry
	Logger       zerolog.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Logger, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/clinics/{clinicID}", func(r chi.Router) {
		r.Get("/doctors", listDoctorsHandler(cfg.Scheduling))

		r.Route("/doctors/{doctorID}", func(r chi.Router) {
			r.Get("/slots", listSlotsHandler(cfg.Scheduling))

			r.Get("/working-hours", listWorkingHoursHandler(cfg.Scheduling))
			r.Post("/working-hours", addWorkingHourHandler(cfg.Scheduling))

			r.Get("/settings", getSettingsHandler(cfg.Scheduling))
			r.Put("/settings", putSettingsHandler(cfg.Scheduling))

			r.Get("/blocked-intervals", listBlockedHandler(cfg.Scheduling))
			r.Post("/blocked-intervals", addBlockedHandler(cfg.Scheduling))
		})

		r.Delete("/working-hours/{ruleID}", removeWorkingHourHandler(cfg.Scheduling))
		r.Delete("/blocked-intervals/{blockID}", removeBlockedHandler(cfg.Scheduling))

		r.Post("/appointments", createAppointmentHandler(cfg.Scheduling))
		r.Patch("/appointments/{appointmentID}", updateAppointmentHandler(cfg.Scheduling))

		r.Post("/messages/inbound", inboundMessageHandler(cfg.Conversation))
	})

	return r
}
