// Package metrics exposes Prometheus collectors for provider calls, circuit
// breakers, cache regions, aggregation cycles and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/irfndi/crypto-insight-go/internal/logging"
	"github.com/irfndi/crypto-insight-go/internal/models"
)

const namespace = "crypto_insight"

// Provider call outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeRateLimited = "rate_limited"
	OutcomeTimeout     = "timeout"
)

// MetricsCollector owns a private registry. A nil *MetricsCollector is valid
// and records nothing, so services can run without metrics in tests.
type MetricsCollector struct {
	logger      *logging.StandardLogger
	serviceName string
	registry    *prometheus.Registry

	providerCalls       *prometheus.CounterVec
	providerLatency     *prometheus.HistogramVec
	breakerState        *prometheus.GaugeVec
	limiterRejections   *prometheus.CounterVec
	cacheRequests       *prometheus.CounterVec
	aggregations        *prometheus.CounterVec
	aggregationDuration *prometheus.HistogramVec
	apiRequests         *prometheus.CounterVec
	apiDuration         *prometheus.HistogramVec
	aiRequests          *prometheus.CounterVec
}

// NewMetricsCollector creates a collector and registers every metric.
func NewMetricsCollector(logger *logging.StandardLogger, serviceName string) *MetricsCollector {
	constLabels := prometheus.Labels{"service": serviceName}

	mc := &MetricsCollector{
		logger:      logger,
		serviceName: serviceName,
		registry:    prometheus.NewRegistry(),

		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "provider",
			Name:        "calls_total",
			Help:        "Upstream provider calls by outcome.",
			ConstLabels: constLabels,
		}, []string{"provider", "outcome"}),

		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "provider",
			Name:        "call_duration_seconds",
			Help:        "Latency of upstream provider calls.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.025, 2, 9), // 25ms to ~6.4s
		}, []string{"provider"}),

		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "breaker",
			Name:        "state",
			Help:        "Circuit breaker state per provider (0 closed, 1 half-open, 2 open).",
			ConstLabels: constLabels,
		}, []string{"provider"}),

		limiterRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "limiter",
			Name:        "rejections_total",
			Help:        "Calls rejected before reaching a provider.",
			ConstLabels: constLabels,
		}, []string{"provider", "reason"}),

		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "requests_total",
			Help:        "Cache lookups by region and result.",
			ConstLabels: constLabels,
		}, []string{"region", "result"}),

		aggregations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "aggregator",
			Name:        "cycles_total",
			Help:        "Aggregation cycles by kind and result.",
			ConstLabels: constLabels,
		}, []string{"kind", "result"}),

		aggregationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "aggregator",
			Name:        "cycle_duration_seconds",
			Help:        "Duration of aggregation cycles.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.05, 2, 9),
		}, []string{"kind"}),

		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Total number of HTTP requests handled.",
			ConstLabels: constLabels,
		}, []string{"method", "path", "status"}),

		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "Duration of HTTP requests.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method", "path"}),

		aiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "ai",
			Name:        "requests_total",
			Help:        "AI requests by outcome (answered, fallback, cached).",
			ConstLabels: constLabels,
		}, []string{"kind", "outcome"}),
	}

	mc.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		mc.providerCalls,
		mc.providerLatency,
		mc.breakerState,
		mc.limiterRejections,
		mc.cacheRequests,
		mc.aggregations,
		mc.aggregationDuration,
		mc.apiRequests,
		mc.apiDuration,
		mc.aiRequests,
	)
	return mc
}

// Registry returns the collector's registry.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{Registry: mc.registry})
}

// RecordProviderCall records one upstream call.
func (mc *MetricsCollector) RecordProviderCall(provider, outcome string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.providerCalls.WithLabelValues(provider, outcome).Inc()
	mc.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// SetBreakerState publishes a breaker transition.
func (mc *MetricsCollector) SetBreakerState(provider string, state models.CircuitState) {
	if mc == nil {
		return
	}
	var v float64
	switch state {
	case models.CircuitHalfOpen:
		v = 1
	case models.CircuitOpen:
		v = 2
	}
	mc.breakerState.WithLabelValues(provider).Set(v)
	if mc.logger != nil {
		mc.logger.LogBreakerTransition(provider, string(state))
	}
}

// RecordRateLimited counts a call the limiter refused. reason is "quota" or "circuit_open".
func (mc *MetricsCollector) RecordRateLimited(provider, reason string) {
	if mc == nil {
		return
	}
	mc.limiterRejections.WithLabelValues(provider, reason).Inc()
}

// RecordHit implements cache.Observer.
func (mc *MetricsCollector) RecordHit(region string) {
	if mc == nil {
		return
	}
	mc.cacheRequests.WithLabelValues(region, "hit").Inc()
}

// RecordMiss implements cache.Observer.
func (mc *MetricsCollector) RecordMiss(region string) {
	if mc == nil {
		return
	}
	mc.cacheRequests.WithLabelValues(region, "miss").Inc()
}

// RecordAggregation records one aggregation cycle. result is "full",
// "partial" or "degraded".
func (mc *MetricsCollector) RecordAggregation(kind, result string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.aggregations.WithLabelValues(kind, result).Inc()
	mc.aggregationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordAPIRequestMetrics records standardized API request metrics.
func (mc *MetricsCollector) RecordAPIRequestMetrics(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.apiRequests.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	mc.apiDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordAIRequest records an Ask or Similar call.
func (mc *MetricsCollector) RecordAIRequest(kind, outcome string) {
	if mc == nil {
		return
	}
	mc.aiRequests.WithLabelValues(kind, outcome).Inc()
}
