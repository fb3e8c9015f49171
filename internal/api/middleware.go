package api

import (
	"strconv"
	"time"

	"github.com/arvancloud/sms-gateway/internal/observability"
	"github.com/arvancloud/sms-gateway/internal/ratelimit"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
)

// rateLimitExcludedPaths are never subject to the global rate-limit headers
// or rejection, per the external-interfaces contract.
var rateLimitExcludedPaths = map[string]struct{}{
	"/health":       {},
	"/healthz":      {},
	"/docs":         {},
	"/openapi.json": {},
}

// SetupMiddleware wires the shared Fiber middleware stack: recovery,
// request id, CORS, structured access logging, and the global rate-limit
// headers on every path not in rateLimitExcludedPaths. It rejects nothing
// itself; the 429 on an exceeded global limit comes from SendSMS.
func SetupMiddleware(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, global *ratelimit.GlobalLimiter) {
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-API-Key",
	}))

	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start)
		status := c.Response().StatusCode()

		logger.Info("http_request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.String("request_id", c.Get("X-Request-ID")),
		)

		if metrics != nil {
			metrics.HTTPRequestsTotal.WithLabelValues(c.Path(), strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(c.Path()).Observe(duration.Seconds())
		}
		return err
	})

	app.Use(func(c *fiber.Ctx) error {
		if _, excluded := rateLimitExcludedPaths[c.Path()]; excluded {
			return c.Next()
		}

		count := global.CurrentCount(c.Context())
		limit := int64(global.Limit())

		c.Set("X-RateLimit-Global-Limit", strconv.FormatInt(limit, 10))
		c.Set("X-RateLimit-Global-Remaining", strconv.FormatInt(max64(limit-count, 0), 10))
		c.Set("X-RateLimit-Global-Reset", "1")

		return c.Next()
	})
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
