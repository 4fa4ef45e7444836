package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/vehicle-rentals/internal/domain"
	"github.com/robertarktes/vehicle-rentals/internal/observability"
	"github.com/robertarktes/vehicle-rentals/internal/rateLimit"
)

type RouterConfig struct {
	JWTSecret     string
	UserRateLimit int
	IPRateLimit   int
}

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(TracingMiddleware)
		r.Use(JWTMiddleware(cfg.JWTSecret))
		r.Use(RateLimitMiddleware(rl, cfg.UserRateLimit, cfg.IPRateLimit))

		r.With(RequireRole(domain.RoleOwner)).Post("/v1/vehicles", h.CreateVehicle)
		r.Get("/v1/vehicles/{id}", h.GetVehicle)

		r.With(RequireRole(domain.RoleRenter), IdempotencyMiddleware).Post("/v1/bookings", h.CreateBooking)
		r.Get("/v1/bookings/{id}", h.GetBooking)
		r.Get("/v1/bookings/{id}/history", h.BookingHistory)
		r.Post("/v1/bookings/{id}/approve", h.ApproveBooking)
		r.Post("/v1/bookings/{id}/cancel", h.CancelBooking)

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(domain.RoleSuperAdmin))
			r.Get("/v1/users", h.ListUsers)
			r.Get("/v1/analytics/system-wide", h.SystemAnalytics)
		})
	})

	return r
}
