// Package metrics exposes Prometheus metrics for the HTTP server, provider
// calls and evaluation results on a dedicated registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yourorg/ophunt/internal/model"
)

const namespace = "ophunt"

// Collector holds the application metrics. A nil *Collector is valid and
// records nothing, so the CLI can run without metrics.
type Collector struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	providerErrors  *prometheus.CounterVec
	rowsTotal       *prometheus.CounterVec
	skippedTotal    *prometheus.CounterVec
	expiryFallbacks *prometheus.CounterVec
	circuitBreaker  prometheus.Gauge
}

// NewCollector constructs a collector and registers its metrics
func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"endpoint", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Failed calls to the market data provider.",
		}, []string{"provider", "operation"}),
		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows produced by the evaluator.",
		}, []string{"side"}),
		skippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contracts_skipped_total",
			Help:      "Contracts dropped by the evaluator, by reason.",
		}, []string{"side", "reason"}),
		expiryFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiry_fallbacks_total",
			Help:      "Requests that fell back to the nearest expiration.",
		}, []string{"outcome"}),
		circuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Provider circuit breaker state (0=closed, 1=open, 2=half-open).",
		}),
	}

	for _, collector := range []prometheus.Collector{
		c.requestTotal,
		c.requestDuration,
		c.providerErrors,
		c.rowsTotal,
		c.skippedTotal,
		c.expiryFallbacks,
		c.circuitBreaker,
	} {
		if err := c.registry.Register(collector); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next to record request count and latency under endpoint
func (c *Collector) InstrumentHandler(endpoint string, next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		c.requestTotal.WithLabelValues(endpoint, strconv.Itoa(rw.status)).Inc()
		c.requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	})
}

// ProviderError counts a failed provider call
func (c *Collector) ProviderError(provider, operation string) {
	if c == nil {
		return
	}
	c.providerErrors.WithLabelValues(provider, operation).Inc()
}

// ExpiryFallback counts a fallback to the nearest expiration by outcome
// ("used", "empty", "unavailable")
func (c *Collector) ExpiryFallback(outcome string) {
	if c == nil {
		return
	}
	c.expiryFallbacks.WithLabelValues(outcome).Inc()
}

// RecordEvaluation counts produced rows and skipped contracts
func (c *Collector) RecordEvaluation(e model.Evaluation) {
	if c == nil {
		return
	}
	c.rowsTotal.WithLabelValues(string(model.SidePut)).Add(float64(len(e.Puts)))
	c.rowsTotal.WithLabelValues(string(model.SideCall)).Add(float64(len(e.Calls)))

	for side, reasons := range e.Skipped {
		for reason, n := range reasons {
			c.skippedTotal.WithLabelValues(string(side), reason).Add(float64(n))
		}
	}
}

// SetBreakerState records the numeric circuit breaker state
func (c *Collector) SetBreakerState(state int) {
	if c == nil {
		return
	}
	c.circuitBreaker.Set(float64(state))
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
