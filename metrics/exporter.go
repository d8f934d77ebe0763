package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter implements Recorder using Prometheus metrics registered
// on a private registry, so several exporters can coexist in one process.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Cache
	hits            *prometheus.CounterVec
	misses          *prometheus.CounterVec
	evictions       *prometheus.CounterVec
	size            *prometheus.GaugeVec
	persistFailures *prometheus.CounterVec

	// Queue
	inFlight   *prometheus.GaugeVec
	pending    *prometheus.GaugeVec
	dispatched *prometheus.CounterVec
	timeouts   *prometheus.CounterVec
	failures   *prometheus.CounterVec

	// Batch
	batchItems *prometheus.CounterVec

	retries *prometheus.CounterVec
}

// NewPrometheusExporter creates an exporter whose metric names are prefixed
// with namespace (for example "giftrelay_cache_hits_total").
func NewPrometheusExporter(namespace string) *PrometheusExporter {
	e := &PrometheusExporter{registry: prometheus.NewRegistry()}

	e.hits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Total number of cache hits",
	}, []string{"cache"})

	e.misses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Total number of cache misses",
	}, []string{"cache"})

	e.evictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_evictions_total",
		Help:      "Total number of entries removed by expiry or overflow",
	}, []string{"cache", "reason"})

	e.size = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_size",
		Help:      "Current number of entries in the cache",
	}, []string{"cache"})

	e.persistFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_persist_failures_total",
		Help:      "Total number of mirror writes dropped after retry",
	}, []string{"cache"})

	e.inFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_in_flight",
		Help:      "Occupied queue slots, including pacing delay",
	}, []string{"queue"})

	e.pending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_pending",
		Help:      "Items waiting for a queue slot",
	}, []string{"queue"})

	e.dispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_dispatched_total",
		Help:      "Total number of queue items started",
	}, []string{"queue"})

	e.timeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_timeouts_total",
		Help:      "Total number of queue items that never started in time",
	}, []string{"queue"})

	e.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_failures_total",
		Help:      "Total number of queue items that returned an error",
	}, []string{"queue"})

	e.batchItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_items_total",
		Help:      "Total number of batch items by result",
	}, []string{"batch", "result"})

	e.retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Total number of retried upstream calls",
	}, []string{"op", "reason"})

	e.registry.MustRegister(
		e.hits,
		e.misses,
		e.evictions,
		e.size,
		e.persistFailures,
		e.inFlight,
		e.pending,
		e.dispatched,
		e.timeouts,
		e.failures,
		e.batchItems,
		e.retries,
	)

	return e
}

// Registry returns the private registry
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus text format
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// CacheHit implements Recorder
func (e *PrometheusExporter) CacheHit(name string) {
	e.hits.WithLabelValues(name).Inc()
}

// CacheMiss implements Recorder
func (e *PrometheusExporter) CacheMiss(name string) {
	e.misses.WithLabelValues(name).Inc()
}

// CacheEviction implements Recorder
func (e *PrometheusExporter) CacheEviction(name, reason string) {
	e.evictions.WithLabelValues(name, reason).Inc()
}

// CacheSize implements Recorder
func (e *PrometheusExporter) CacheSize(name string, size int) {
	e.size.WithLabelValues(name).Set(float64(size))
}

// CachePersistFailure implements Recorder
func (e *PrometheusExporter) CachePersistFailure(name string) {
	e.persistFailures.WithLabelValues(name).Inc()
}

// QueueInFlight implements Recorder
func (e *PrometheusExporter) QueueInFlight(name string, n int) {
	e.inFlight.WithLabelValues(name).Set(float64(n))
}

// QueuePending implements Recorder
func (e *PrometheusExporter) QueuePending(name string, n int) {
	e.pending.WithLabelValues(name).Set(float64(n))
}

// QueueDispatched implements Recorder
func (e *PrometheusExporter) QueueDispatched(name string) {
	e.dispatched.WithLabelValues(name).Inc()
}

// QueueTimeout implements Recorder
func (e *PrometheusExporter) QueueTimeout(name string) {
	e.timeouts.WithLabelValues(name).Inc()
}

// QueueFailure implements Recorder
func (e *PrometheusExporter) QueueFailure(name string) {
	e.failures.WithLabelValues(name).Inc()
}

// BatchItem implements Recorder
func (e *PrometheusExporter) BatchItem(name string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	e.batchItems.WithLabelValues(name, result).Inc()
}

// Retry implements Recorder
func (e *PrometheusExporter) Retry(op, reason string) {
	e.retries.WithLabelValues(op, reason).Inc()
}
