package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
)

// SetupOpenTelemetry installs a Prometheus-backed OTel meter provider as
// the global meter, for components that prefer the OTel metrics API over
// direct Prometheus client calls.
func SetupOpenTelemetry(serviceName string, log *zap.Logger) (func(), error) {
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, err
	}

	metricExporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	metricProvider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metricExporter),
	)

	otel.SetMeterProvider(metricProvider)
	log.Info("opentelemetry initialized", zap.String("service", serviceName))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricProvider.Shutdown(ctx); err != nil {
			log.Error("error shutting down opentelemetry", zap.Error(err))
		}
	}, nil
}
