package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/leadflow/internal/infrastructure/config"
	"github.com/cassiomorais/leadflow/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/leadflow/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Checkout   *CheckoutController
	Payments   *PaymentController
	Webhooks   *WebhookController
	Resilience *ResilienceController
	// AI is optional; the route is not mounted without it.
	AI      *AIController
	Health  *HealthController
	Metrics *observability.Metrics
	// MetricsHandler serves /metrics; nil means promhttp's default registry.
	MetricsHandler http.Handler
	Logger         zerolog.Logger
	Server         config.ServerConfig
	Auth           config.AuthConfig
	RateLimit      config.RateLimitConfig
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(customMW.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Server.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader},
		ExposedHeaders:   []string{"Idempotent-Replayed", "Retry-After"},
		AllowCredentials: deps.Server.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	r.Get("/health", deps.Health.Health)
	r.Get("/health/live", deps.Health.Liveness)
	r.Get("/health/ready", deps.Health.Readiness)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	r.With(customMW.RateLimit(deps.RateLimit.WebhookPerMinute)).
		Post("/webhooks/payments", deps.Webhooks.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		// Public: the lead follows a link from the estimate email.
		r.With(customMW.RateLimit(deps.RateLimit.CheckoutPerMinute)).
			Post("/estimates/{id}/checkout", deps.Checkout.Create)

		// Contractor dashboard.
		r.Group(func(r chi.Router) {
			r.Use(customMW.RequireAuth(deps.Auth.JWTSecret))

			r.Get("/payments/{id}", deps.Payments.Get)
			r.Post("/payments/{id}/sync", deps.Payments.Sync)
			r.Get("/resilience/breakers", deps.Resilience.Breakers)
			if deps.AI != nil {
				r.Post("/ai/generate", deps.AI.Generate)
			}
		})
	})

	return r
}
