package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arvancloud/sms-gateway/internal/api"
	"github.com/arvancloud/sms-gateway/internal/auth"
	"github.com/arvancloud/sms-gateway/internal/config"
	"github.com/arvancloud/sms-gateway/internal/db"
	"github.com/arvancloud/sms-gateway/internal/deadletter"
	"github.com/arvancloud/sms-gateway/internal/distribution"
	"github.com/arvancloud/sms-gateway/internal/health"
	"github.com/arvancloud/sms-gateway/internal/kvstore"
	"github.com/arvancloud/sms-gateway/internal/observability"
	"github.com/arvancloud/sms-gateway/internal/providers"
	"github.com/arvancloud/sms-gateway/internal/queue"
	"github.com/arvancloud/sms-gateway/internal/ratelimit"
	"github.com/arvancloud/sms-gateway/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.LoggerFromEnv(cfg.LogLevel)
	defer logger.Sync()
	logger.Info("starting sms gateway api")

	ctx := context.Background()

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate("migrations"); err != nil {
		logger.Warn("migrations did not apply cleanly", zap.Error(err))
	}

	redisStore, err := kvstore.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisStore.Close()

	natsQueue, err := queue.NewNATSQueue(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal("failed to connect to nats", zap.Error(err))
	}
	defer natsQueue.Close()

	registry := providers.NewRegistry(cfg.ProviderURLs())
	tracker := health.New(redisStore, cfg.HealthWindow, cfg.HealthFailureThreshold, logger)
	perProvLimiter := ratelimit.NewProvider(redisStore, cfg.ProviderRateLimit, cfg.RateLimitWindow, logger)
	globalLimiter := ratelimit.NewGlobal(redisStore, cfg.GlobalRateLimit, cfg.RateLimitWindow, logger)
	selector := distribution.New(tracker, perProvLimiter, globalLimiter, registry, cfg.HealthCheckInterval, logger)
	deadLetter := deadletter.New(redisStore, natsQueue, logger)

	requestStore := store.NewRequestStore(database, logger)
	healthSummaryStore := store.NewHealthSummaryStore(database, logger)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	shutdownOtel, err := observability.SetupOpenTelemetry("sms-gateway-api", logger)
	if err != nil {
		logger.Warn("failed to set up opentelemetry", zap.Error(err))
	} else {
		defer shutdownOtel()
	}

	authService := auth.NewFromHash(cfg.APIKeyHash)
	handlers := api.NewHandlers(requestStore, natsQueue, globalLimiter, perProvLimiter, tracker, healthSummaryStore, selector, deadLetter, registry, metrics, logger)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			logger.Error("unhandled fiber error", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
		},
	})

	api.SetupRoutes(app, logger, metrics, handlers, authService, globalLimiter)

	go func() {
		addr := cfg.Host + ":" + cfg.Port
		if err := app.Listen(addr); err != nil {
			logger.Fatal("failed to start api server", zap.Error(err))
		}
	}()
	logger.Info("sms gateway api started", zap.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down api...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("failed to shut down gracefully", zap.Error(err))
	}
	logger.Info("sms gateway api stopped")
}
