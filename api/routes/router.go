package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pixelmint-ai/pixelmint-backend/api/controllers"
	"github.com/pixelmint-ai/pixelmint-backend/api/middleware"
	"github.com/pixelmint-ai/pixelmint-backend/internal/credits"
	"github.com/pixelmint-ai/pixelmint-backend/internal/entitlements"
	"github.com/pixelmint-ai/pixelmint-backend/internal/generation"
	squarewebhook "github.com/pixelmint-ai/pixelmint-backend/internal/webhooks/square"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/auth/session"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/config"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
	pkgredis "github.com/pixelmint-ai/pixelmint-backend/pkg/redis"
)

// RouterParams collects everything the HTTP surface depends on.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	Sessions session.AccessSessionChecker
	Redis    *pkgredis.Client

	Readiness controllers.ReadinessChecks

	Generation    generation.Service
	Credits       credits.Service
	Entitlements  entitlements.Service
	SquareWebhook *squarewebhook.Service
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, p.Readiness, logg))
	})

	// Square authenticates deliveries with its own HMAC signature, so the
	// webhook stays outside the JWT-protected group.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/square", controllers.SquareWebhook(p.SquareWebhook, logg))
	})

	submitPolicy := middleware.SubmitRateLimitPolicy{
		Window:    cfg.RateLimit.SubmitWindow,
		UserLimit: cfg.RateLimit.SubmitUserLimit,
	}

	// A nil *Client must stay a nil interface or the middlewares' guard
	// checks stop working.
	var idempotencyStore pkgredis.IdempotencyStore
	var rateLimitStore middleware.RateLimiterStore
	if p.Redis != nil {
		idempotencyStore = p.Redis
		rateLimitStore = p.Redis
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, p.Sessions, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.With(middleware.SubmitRateLimit(submitPolicy, rateLimitStore, logg)).
			Post("/generations", controllers.SubmitGeneration(p.Generation, logg))
		r.Get("/generations", controllers.ListGenerations(p.Generation, logg))
		r.Get("/generations/{taskId}", controllers.GetGeneration(p.Generation, logg))

		r.Get("/credits/balance", controllers.CreditBalance(p.Credits, logg))
		r.Get("/credits/transactions", controllers.CreditTransactions(p.Credits, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, p.Sessions, logg))
		r.Use(middleware.RequireRole("admin", logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Post("/credits/grant", controllers.AdminGrantCredits(p.Credits, logg))
		r.Post("/entitlements", controllers.AdminCreateEntitlement(p.Entitlements, logg))
		r.Post("/entitlements/{entitlementId}/cancel", controllers.AdminCancelEntitlement(p.Entitlements, logg))
	})

	return r
}
