// Package svcmetrics exposes ipxcore's runtime counters and gauges as
// Prometheus collectors. The module itself never listens on a port (the
// HTTP layer is out of scope); CollectRegistry returns a *prometheus.Registry
// an external caller can expose however it likes.
package svcmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamrelay/ipxcore/pkg/dispatcher"
	"github.com/streamrelay/ipxcore/pkg/providerpool"
	"github.com/streamrelay/ipxcore/pkg/sharedstream"
)

// PageCacheSource reports the cumulative hit/miss counts of one BTreeStore
// handle's block cache; *btree.QueryHandle[K,V] and *btree.UpdateHandle[K,V]
// both satisfy this via their CacheStats method.
type PageCacheSource interface {
	CacheStats() (hits, misses int64)
}

// Metrics is the collected set of ipxcore Prometheus metrics. Construct with
// New, then register sources with RegisterPageCache, wire a Collector into
// a Dispatcher via dispatcher.SetMetricsSink, and call CollectRegistry to
// obtain a registry an external HTTP layer can serve.
type Metrics struct {
	registry *prometheus.Registry

	activeConnections *prometheus.GaugeVec
	sharedSubscribers prometheus.Gauge
	graceAdmissions   *prometheus.CounterVec
	exhaustedStreams  *prometheus.CounterVec
	pageCacheHitRatio *prometheus.GaugeVec

	pageCacheSources map[string]PageCacheSource
}

// New builds a Metrics instance with a fresh registry and every metric
// registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ipxcore",
			Subsystem: "providerpool",
			Name:      "active_connections",
			Help:      "Current connection count per provider.",
		}, []string{"provider"}),
		sharedSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ipxcore",
			Subsystem: "sharedstream",
			Name:      "active_streams",
			Help:      "Number of shared streams currently registered.",
		}),
		graceAdmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipxcore",
			Subsystem: "dispatcher",
			Name:      "grace_admissions_total",
			Help:      "Requests admitted under grace-period overflow, by provider.",
		}, []string{"provider"}),
		exhaustedStreams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipxcore",
			Subsystem: "dispatcher",
			Name:      "exhausted_streams_total",
			Help:      "Custom exhausted/unavailable streams emitted, by kind.",
		}, []string{"kind"}),
		pageCacheHitRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ipxcore",
			Subsystem: "btree",
			Name:      "page_cache_hit_ratio",
			Help:      "Cumulative block-cache hit ratio, by named handle.",
		}, []string{"handle"}),
		pageCacheSources: make(map[string]PageCacheSource),
	}
	m.registry.MustRegister(
		m.activeConnections,
		m.sharedSubscribers,
		m.graceAdmissions,
		m.exhaustedStreams,
		m.pageCacheHitRatio,
	)
	return m
}

// CollectRegistry returns the underlying *prometheus.Registry for an
// external HTTP layer to expose (e.g. via promhttp.HandlerFor).
func (m *Metrics) CollectRegistry() *prometheus.Registry {
	return m.registry
}

// GraceAdmission implements dispatcher.MetricsSink.
func (m *Metrics) GraceAdmission(provider string) {
	m.graceAdmissions.WithLabelValues(provider).Inc()
}

// ExhaustedStream implements dispatcher.MetricsSink.
func (m *Metrics) ExhaustedStream(kind string) {
	m.exhaustedStreams.WithLabelValues(kind).Inc()
}

var _ dispatcher.MetricsSink = (*Metrics)(nil)

// RegisterPageCache names a BTreeStore handle so Sample includes it in the
// page-cache hit ratio gauge.
func (m *Metrics) RegisterPageCache(name string, source PageCacheSource) {
	m.pageCacheSources[name] = source
}

// Sample refreshes the gauge metrics (active connections per provider,
// number of registered shared streams, page-cache hit ratios) from the live
// state of pool and registry. Call this on a periodic tick; the counter
// metrics (grace admissions, exhausted streams) update themselves directly
// through the MetricsSink methods above.
func (m *Metrics) Sample(pool *providerpool.ProviderPool, registry *sharedstream.Registry) {
	m.activeConnections.Reset()
	for provider, count := range pool.ActiveConnections() {
		m.activeConnections.WithLabelValues(provider).Set(float64(count))
	}
	if registry != nil {
		m.sharedSubscribers.Set(float64(registry.ActiveCount()))
	}
	for name, src := range m.pageCacheSources {
		hits, misses := src.CacheStats()
		total := hits + misses
		ratio := 0.0
		if total > 0 {
			ratio = float64(hits) / float64(total)
		}
		m.pageCacheHitRatio.WithLabelValues(name).Set(ratio)
	}
}
