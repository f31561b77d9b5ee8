package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/objcachefs/objcachefs/internal/data"
)

// CoreRecorder implements data.MetricsRecorder and adds a ResourceManager
// wait-time histogram (ObserveResourceWait), registered against an existing Collector's
// registry so the data-path cache's counters show up on the same
// /metrics endpoint as everything else rather than a second server.
type CoreRecorder struct {
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	evictions      prometheus.Counter
	evictedBytes   prometheus.Counter
	resourceWaits  prometheus.Histogram
}

// NewCoreRecorder creates and registers the page-cache counters against
// registry. namespace/subsystem follow the same convention initMetrics
// uses for the rest of the collector's metrics.
func NewCoreRecorder(registry *prometheus.Registry, namespace, subsystem string) (*CoreRecorder, error) {
	r := &CoreRecorder{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "page_cache_hits_total",
			Help: "Total number of Cache.Read/FindFile hits in the paged data cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "page_cache_misses_total",
			Help: "Total number of Cache.Read/FindFile misses in the paged data cache.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "page_cache_evictions_total",
			Help: "Total number of Files evicted from the paged data cache.",
		}),
		evictedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "page_cache_evicted_bytes_total",
			Help: "Total bytes freed by paged data cache eviction.",
		}),
		resourceWaits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name:    "resource_manager_acquire_wait_seconds",
			Help:    "Time spent blocked in ResourceManager.Acquire waiting for a free buffer.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 12),
		}),
	}

	for _, m := range []prometheus.Collector{r.cacheHits, r.cacheMisses, r.evictions, r.evictedBytes, r.resourceWaits} {
		if err := registry.Register(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RecordCacheHit implements data.MetricsRecorder.
func (r *CoreRecorder) RecordCacheHit() { r.cacheHits.Inc() }

// RecordCacheMiss implements data.MetricsRecorder.
func (r *CoreRecorder) RecordCacheMiss() { r.cacheMisses.Inc() }

// RecordEviction implements data.MetricsRecorder.
func (r *CoreRecorder) RecordEviction(freedBytes int64) {
	r.evictions.Inc()
	r.evictedBytes.Add(float64(freedBytes))
}

// ObserveResourceWait records how long an Acquire call blocked, in
// seconds, for a caller of data.ResourceManager.Acquire to report.
// Nothing in this module calls it, so the histogram stays empty.
func (r *CoreRecorder) ObserveResourceWait(seconds float64) {
	r.resourceWaits.Observe(seconds)
}

var _ data.MetricsRecorder = (*CoreRecorder)(nil)
