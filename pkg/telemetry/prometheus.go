package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of an auth chain process.
type Metrics struct {
	chainsTotal     *prometheus.CounterVec
	chainDuration   *prometheus.HistogramVec
	contextBuilds   *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	registryReloads *prometheus.CounterVec
	registryEpoch   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		chainsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authchain_chain_operations_total",
				Help: "Total number of chain operations by side, operation and status",
			},
			[]string{"side", "operation", "status"},
		),
		chainDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authchain_chain_duration_seconds",
				Help:    "Chain operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"side", "operation"},
		),
		contextBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authchain_context_builds_total",
				Help: "Total number of auth context constructions by side and result",
			},
			[]string{"side", "result"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authchain_context_cache_lookups_total",
				Help: "Context cache lookups by result",
			},
			[]string{"result"},
		),
		registryReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authchain_registry_reloads_total",
				Help: "Total number of module registry reload attempts by status",
			},
			[]string{"status"},
		),
		registryEpoch: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authchain_registry_epoch",
				Help: "Current module registry generation",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.chainsTotal,
		m.chainDuration,
		m.contextBuilds,
		m.cacheLookups,
		m.registryReloads,
		m.registryEpoch,
	)

	return m
}

// RecordChain records a completed chain operation. A nil receiver is a no-op.
func (m *Metrics) RecordChain(side, operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.chainsTotal.WithLabelValues(side, operation, status).Inc()
	m.chainDuration.WithLabelValues(side, operation).Observe(duration.Seconds())
}

// RecordContextBuild records an auth context construction.
func (m *Metrics) RecordContextBuild(side string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.contextBuilds.WithLabelValues(side, result).Inc()
}

// RecordCacheLookup records a context cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordRegistryReload records a registry reload attempt and the resulting epoch.
func (m *Metrics) RecordRegistryReload(epoch uint64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.registryReloads.WithLabelValues("error").Inc()
		return
	}
	m.registryReloads.WithLabelValues("success").Inc()
	m.registryEpoch.Set(float64(epoch))
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
