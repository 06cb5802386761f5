// Package telemetry exposes Prometheus metrics for provider attempts, the result cache
// and the HTTP surface.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"TopSignals/internal/model"
)

const namespace = "topsignals"

// Metrics is the collector set. It implements chain.Observer and cache.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	ProviderAttempts *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	ProviderItems    *prometheus.GaugeVec
	CacheEvents      *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	AlertsSent       *prometheus.CounterVec
}

// New creates the metrics on a private registry, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ProviderAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Provider attempts by metric, provider and outcome",
		}, []string{"metric", "provider", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_attempt_duration_seconds",
			Help:      "Provider attempt duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 60},
		}, []string{"metric", "provider"}),
		ProviderItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_items_returned",
			Help:      "Items returned by the last successful attempt",
		}, []string{"metric", "provider"}),
		CacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_events_total",
			Help:      "Result cache hits, misses and stale serves",
		}, []string{"key", "event"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_sent_total",
			Help:      "Alerts delivered by rule",
		}, []string{"rule"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ProviderAttempts,
		m.ProviderDuration,
		m.ProviderItems,
		m.CacheEvents,
		m.HTTPRequests,
		m.HTTPDuration,
		m.AlertsSent,
	)
	return m
}

// Registry returns the private registry, for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAttempt(metric string, a model.ProviderAttempt) {
	m.ProviderAttempts.WithLabelValues(metric, a.Provider, string(a.Outcome)).Inc()
	m.ProviderDuration.WithLabelValues(metric, a.Provider).Observe(a.Duration.Seconds())
	if a.Succeeded {
		m.ProviderItems.WithLabelValues(metric, a.Provider).Set(float64(a.ItemsReturned))
	}
}

func (m *Metrics) CacheHit(key string)   { m.CacheEvents.WithLabelValues(key, "hit").Inc() }
func (m *Metrics) CacheMiss(key string)  { m.CacheEvents.WithLabelValues(key, "miss").Inc() }
func (m *Metrics) CacheStale(key string) { m.CacheEvents.WithLabelValues(key, "stale").Inc() }

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

// AlertSent counts a delivered alert.
func (m *Metrics) AlertSent(rule string) { m.AlertsSent.WithLabelValues(rule).Inc() }
