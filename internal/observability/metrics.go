package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the process-wide set of Prometheus collectors the dispatch
// pipeline reports against.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	RateLimitRejectionsTotal *prometheus.CounterVec
	ProviderSelectionsTotal  *prometheus.CounterVec
	SendAttemptsTotal        *prometheus.CounterVec
	RetryScheduledTotal      *prometheus.CounterVec
	DeadLetterTotal          prometheus.Counter
	ProviderHealthGauge      *prometheus.GaugeVec
}

// NewMetrics constructs and registers every collector against registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sms_gateway_http_requests_total",
			Help: "Total HTTP requests handled by the admit/admin API, by route and status code.",
		}, []string{"route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sms_gateway_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sms_gateway_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter, by scope (provider id or global).",
		}, []string{"scope"}),

		ProviderSelectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sms_gateway_provider_selections_total",
			Help: "Provider selections made by the distribution selector, by provider id and mode.",
		}, []string{"provider", "mode"}),

		SendAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sms_gateway_send_attempts_total",
			Help: "Sender task outcomes, by provider id and result.",
		}, []string{"provider", "result"}),

		RetryScheduledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sms_gateway_retry_scheduled_total",
			Help: "Retries scheduled after a failed send, by provider id that failed.",
		}, []string{"provider"}),

		DeadLetterTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sms_gateway_dead_letter_total",
			Help: "Requests pushed to the dead-letter list after exhausting retries.",
		}),

		ProviderHealthGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sms_gateway_provider_healthy",
			Help: "1 if the provider's sliding-window health is currently healthy, 0 otherwise.",
		}, []string{"provider"}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RateLimitRejectionsTotal,
		m.ProviderSelectionsTotal,
		m.SendAttemptsTotal,
		m.RetryScheduledTotal,
		m.DeadLetterTotal,
		m.ProviderHealthGauge,
	)

	return m
}
