package api

import (
	"github.com/arvancloud/sms-gateway/internal/auth"
	"github.com/arvancloud/sms-gateway/internal/observability"
	"github.com/arvancloud/sms-gateway/internal/ratelimit"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRoutes mounts the admit, read, and admin endpoints onto app.
func SetupRoutes(
	app *fiber.App,
	logger *zap.Logger,
	metrics *observability.Metrics,
	handlers *Handlers,
	authService *auth.Service,
	global *ratelimit.GlobalLimiter,
) {
	SetupMiddleware(app, logger, metrics, global)

	app.Get("/healthz", handlers.HealthCheck)
	app.Get("/health", handlers.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	sms := app.Group("/api/sms", authService.RequireAPIKey())
	sms.Post("/send", handlers.SendSMS)
	sms.Get("/rate-limits", handlers.RateLimits)
	sms.Get("/health", handlers.Health)
	sms.Get("/health/:provider_id", handlers.HealthByProvider)
	sms.Post("/health/:provider_id/reset", handlers.ResetHealth)
	sms.Get("/requests", handlers.ListRequests)
	sms.Get("/requests/:id", handlers.GetRequest)
	sms.Get("/stats", handlers.Stats)
	sms.Get("/distribution-stats", handlers.DistributionStats)
	sms.Post("/distribution-stats/reset", handlers.ResetDistributionStats)
	sms.Get("/queue-status", handlers.QueueStatus)
	sms.Get("/dead-letter", handlers.DeadLetter)
}
