// Package observability wires up structured logging, Prometheus metrics,
// and the OpenTelemetry meter provider shared across the API and worker
// processes.
package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production JSON logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	parsedLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		parsedLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(parsedLevel)

	config.Encoding = "json"
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// NewDevelopmentLogger builds a colorized console logger for local runs.
func NewDevelopmentLogger() *zap.Logger {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, _ := config.Build()
	return logger
}

// LoggerFromEnv picks a development or production logger based on GO_ENV,
// falling back to the level given when running in production mode.
func LoggerFromEnv(level string) *zap.Logger {
	if os.Getenv("GO_ENV") == "development" {
		return NewDevelopmentLogger()
	}
	logger, err := NewLogger(level)
	if err != nil {
		return NewDevelopmentLogger()
	}
	return logger
}
