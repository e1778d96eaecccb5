package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prismapilot_query_cache_results_total",
			Help: "Total query cache outcomes.",
		},
		[]string{"result"},
	)
	cacheLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prismapilot_query_cache_latency_seconds",
			Help:    "Query cache store operation latency in seconds.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
		[]string{"operation"},
	)
)

// Collectors returns the cache collectors for registration on a custom
// registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{cacheResultsTotal, cacheLatencySeconds}
}

func incCacheResult(result string) {
	cacheResultsTotal.WithLabelValues(result).Inc()
}

func observeCacheLatency(operation string, start time.Time) {
	cacheLatencySeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
