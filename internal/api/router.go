package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vitacall/teleconsult/internal/consult"
	"github.com/vitacall/teleconsult/internal/fanout"
)

type RouterConfig struct {
	Service   *consult.Service
	Hub       *fanout.Hub
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	JWTSecret string
	Logger    *slog.Logger
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Route("/api/doctor", func(r chi.Router) {
			r.Use(RequireRole(consult.RoleDoctor))

			r.Get("/schedules", listDoctorSchedulesHandler(cfg.Service))
			r.Post("/schedules", createScheduleHandler(cfg.Service))
			r.Post("/schedules/{scheduleID}/start", startPracticeHandler(cfg.Service))
			r.Post("/schedules/{scheduleID}/end", endPracticeHandler(cfg.Service))
			r.Get("/schedules/{scheduleID}/queue", queueHandler(cfg.Service))
			r.Post("/schedules/{scheduleID}/invite", inviteHandler(cfg.Service))
			r.Post("/schedules/{scheduleID}/queue/{patientID}/requeue", requeueHandler(cfg.Service))
		})

		r.Route("/api/patient", func(r chi.Router) {
			r.Use(RequireRole(consult.RolePatient))

			r.Get("/schedules", listOpenSchedulesHandler(cfg.Service))
			r.Get("/schedules/{scheduleID}", scheduleDetailHandler(cfg.Service))
			r.Post("/schedules/{scheduleID}/queue", joinQueueHandler(cfg.Service))
			r.Post("/schedules/{scheduleID}/ready", toggleReadyHandler(cfg.Service))
			r.Get("/invitation", pendingInvitationHandler(cfg.Service))
		})

		r.Route("/api/call-sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", getCallSessionHandler(cfg.Service))
			r.Post("/peer-address", setPeerAddressHandler(cfg.Service))
			r.Post("/activate", activateHandler(cfg.Service))
			r.Post("/end", endHandler(cfg.Service))

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(consult.RolePatient))
				r.Post("/confirm", confirmHandler(cfg.Service))
				r.Post("/decline", declineHandler(cfg.Service))
			})
		})

		if cfg.Hub != nil {
			r.Get("/ws", wsHandler(cfg.Hub, cfg.Logger))
		}
	})

	return r
}
