package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arvancloud/sms-gateway/internal/config"
	"github.com/arvancloud/sms-gateway/internal/db"
	"github.com/arvancloud/sms-gateway/internal/deadletter"
	"github.com/arvancloud/sms-gateway/internal/dispatch"
	"github.com/arvancloud/sms-gateway/internal/distribution"
	"github.com/arvancloud/sms-gateway/internal/health"
	"github.com/arvancloud/sms-gateway/internal/kvstore"
	"github.com/arvancloud/sms-gateway/internal/observability"
	"github.com/arvancloud/sms-gateway/internal/providers"
	"github.com/arvancloud/sms-gateway/internal/queue"
	"github.com/arvancloud/sms-gateway/internal/ratelimit"
	"github.com/arvancloud/sms-gateway/internal/retrypolicy"
	"github.com/arvancloud/sms-gateway/internal/sender"
	"github.com/arvancloud/sms-gateway/internal/store"
	"github.com/arvancloud/sms-gateway/internal/sweep"
	"github.com/arvancloud/sms-gateway/internal/worker"
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
	logger.Info("starting sms gateway worker")

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	ctx := context.Background()

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

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

	shutdownOtel, err := observability.SetupOpenTelemetry("sms-gateway-worker", logger)
	if err != nil {
		logger.Warn("failed to set up opentelemetry", zap.Error(err))
	} else {
		defer shutdownOtel()
	}

	registry := providers.NewRegistry(cfg.ProviderURLs())
	tracker := health.New(redisStore, cfg.HealthWindow, cfg.HealthFailureThreshold, logger)
	perProvLimiter := ratelimit.NewProvider(redisStore, cfg.ProviderRateLimit, cfg.RateLimitWindow, logger)
	globalLimiter := ratelimit.NewGlobal(redisStore, cfg.GlobalRateLimit, cfg.RateLimitWindow, logger)
	selector := distribution.New(tracker, perProvLimiter, globalLimiter, registry, cfg.HealthCheckInterval, logger)
	deadLetter := deadletter.New(redisStore, natsQueue, logger)
	retryPolicy := retrypolicy.New(cfg.RetryBaseDelay, cfg.RetryMaxDelay, cfg.MaxRetries, cfg.RetryJitter)

	requestStore := store.NewRequestStore(database, logger)
	responseStore := store.NewResponseStore(database, logger)
	retryStore := store.NewRetryStore(database, logger)
	healthSummaryStore := store.NewHealthSummaryStore(database, logger)

	dispatcher := dispatch.New(selector, requestStore, natsQueue, metrics, logger)
	sndr := sender.New(requestStore, responseStore, retryStore, healthSummaryStore, tracker, deadLetter, natsQueue, retryPolicy, registry.IDs(), metrics, logger)

	pool := worker.New(dispatcher, sndr, natsQueue, cfg.DispatchWorkers, cfg.SendWorkers, cfg.TaskTimeout, logger)
	unsubscribe, err := pool.Start()
	if err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	var stopSweep context.CancelFunc
	if cfg.SweepEnabled {
		sweepCtx, cancel := context.WithCancel(context.Background())
		stopSweep = cancel
		sw := sweep.New(requestStore, natsQueue, cfg.SweepInterval, cfg.SweepStallTimeout, logger)
		go sw.Run(sweepCtx)
		logger.Info("stalled-request sweep enabled", zap.Duration("interval", cfg.SweepInterval), zap.Duration("stall_timeout", cfg.SweepStallTimeout))
	}

	logger.Info("sms gateway worker started, waiting for tasks...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker...")
	if stopSweep != nil {
		stopSweep()
	}
	if err := unsubscribe(); err != nil {
		logger.Warn("failed to unsubscribe from queue cleanly", zap.Error(err))
	}
	pool.Shutdown(5 * time.Second)
	logger.Info("sms gateway worker stopped")
}
