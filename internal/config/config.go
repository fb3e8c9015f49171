package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every environment-configurable tunable for the gateway core.
type Config struct {
	Host  string `envconfig:"HOST" default:"0.0.0.0"`
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	RedisURL    string `envconfig:"REDIS_URL" required:"true"`
	NATSURL     string `envconfig:"NATS_URL" required:"true"`

	Provider1URL string `envconfig:"PROVIDER1_URL" required:"true"`
	Provider2URL string `envconfig:"PROVIDER2_URL" required:"true"`
	Provider3URL string `envconfig:"PROVIDER3_URL" required:"true"`

	ProviderRateLimit int           `envconfig:"PROVIDER_RATE_LIMIT" default:"50"`
	GlobalRateLimit   int           `envconfig:"GLOBAL_RATE_LIMIT" default:"200"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW_SECONDS" default:"1s"`

	HealthWindow           time.Duration `envconfig:"HEALTH_WINDOW_SECONDS" default:"300s"`
	HealthFailureThreshold float64       `envconfig:"HEALTH_FAILURE_THRESHOLD" default:"0.70"`
	HealthCheckInterval    time.Duration `envconfig:"HEALTH_CHECK_INTERVAL_SECONDS" default:"30s"`

	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"5"`
	RetryBaseDelay time.Duration `envconfig:"RETRY_BASE_DELAY_SECONDS" default:"1s"`
	RetryMaxDelay  time.Duration `envconfig:"RETRY_MAX_DELAY_SECONDS" default:"300s"`
	RetryJitter    bool          `envconfig:"RETRY_JITTER" default:"true"`

	SweepEnabled      bool          `envconfig:"SWEEP_ENABLED" default:"false"`
	SweepStallTimeout time.Duration `envconfig:"SWEEP_STALL_TIMEOUT_SECONDS" default:"120s"`
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL_SECONDS" default:"30s"`

	APIKeyHash string `envconfig:"API_KEY_HASH" required:"true"`

	DispatchWorkers int           `envconfig:"DISPATCH_WORKERS" default:"10"`
	SendWorkers     int           `envconfig:"SEND_WORKERS" default:"20"`
	TaskTimeout     time.Duration `envconfig:"TASK_TIMEOUT_SECONDS" default:"30s"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ProviderURLs returns the closed provider-id -> URL map configured for this process.
func (c *Config) ProviderURLs() map[string]string {
	return map[string]string{
		"provider1": c.Provider1URL,
		"provider2": c.Provider2URL,
		"provider3": c.Provider3URL,
	}
}
