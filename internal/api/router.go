package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Booking      BookingService
	Availability AvailabilityService
	Directory    DoctorDirectory
	Billing      BillingLookup
	Patients     PatientLookup
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Logger       *zap.Logger
	Env          string
	Version      string
	// SessionSecret verifies tokens minted by the login collaborator.
	SessionSecret string
	// RateLimit is requests per minute per client IP.
	RateLimit int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger.Named("http")))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	if cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
	}

	// Health and metrics stay outside auth.
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.SessionSecret))

		r.Get("/availability", availabilityHandler(cfg.Availability))
		r.Post("/bookings", bookHandler(cfg.Booking))
		r.Get("/appointments", listAppointmentsHandler(cfg.Booking))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Booking))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Booking))

		r.Get("/doctors", searchDoctorsHandler(cfg.Directory))
		r.Get("/doctors/{id}/billing", billingHandler(cfg.Billing))
		r.Get("/patients/lookup", lookupPatientHandler(cfg.Patients))
	})

	return r
}
