// Package observability wires this process's Prometheus metrics and
// OpenTelemetry tracing — the signals the Health API's metrics component
// and the Stats API surface.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds every Prometheus metric this process exports.
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	IngestAccepted prometheus.Counter
	IngestFailed   prometheus.Counter
	IngestDegraded prometheus.Counter
	BatchFlushSize prometheus.Histogram

	QueryDuration *prometheus.HistogramVec
	QueryTimeouts prometheus.Counter

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	StorageTierBytes    *prometheus.GaugeVec
	StorageTierEntries  *prometheus.GaugeVec
	CircuitBreakerState *prometheus.GaugeVec

	SubscriptionsActive prometheus.Gauge
}

// NewCollector returns the process-wide collector, creating it on first
// call. Subsequent calls return the same instance — tests that construct
// multiple services in one process must not double-register metrics.
func NewCollector(namespace string) *Collector {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests served",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request duration", Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		IngestAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_entries_accepted_total", Help: "Entries accepted by the ingestion pipeline",
		}),
		IngestFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_entries_failed_total", Help: "Entries rejected by validation",
		}),
		IngestDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_batches_degraded_total", Help: "Flushed batches where a fan-out destination failed",
		}),
		BatchFlushSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "ingest_batch_flush_size", Help: "Entry count per flushed batch",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
		}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "query_duration_seconds", Help: "Query service latency", Buckets: prometheus.DefBuckets,
		}, []string{"cache_result"}),
		QueryTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "query_timeouts_total", Help: "Queries whose storage result reported a timeout",
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_hits_total", Help: "Query cache hits",
		}, []string{"level"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_misses_total", Help: "Query cache misses",
		}, []string{"level"}),
		StorageTierBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "storage_tier_bytes", Help: "Bytes stored per tier",
		}, []string{"tier"}),
		StorageTierEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "storage_tier_entries", Help: "Entry count per tier",
		}, []string{"tier"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_state", Help: "0=closed 1=half_open 2=open",
		}, []string{"dependency"}),
		SubscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "subscriptions_active", Help: "Live streaming subscriptions",
		}),
	}

	registry.MustRegister(
		c.HTTPRequests, c.HTTPDuration,
		c.IngestAccepted, c.IngestFailed, c.IngestDegraded, c.BatchFlushSize,
		c.QueryDuration, c.QueryTimeouts,
		c.CacheHits, c.CacheMisses,
		c.StorageTierBytes, c.StorageTierEntries, c.CircuitBreakerState,
		c.SubscriptionsActive,
	)

	globalCollector = c
	return globalCollector
}

// Registry exposes the underlying Prometheus registry for the /metrics
// HTTP handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ResetForTesting clears the singleton so tests can construct a fresh
// collector without tripping Prometheus's duplicate-registration panic.
func ResetForTesting() {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()
	globalCollector = nil
}
