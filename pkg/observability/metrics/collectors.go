package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// queryDuration tracks list request duration in seconds.
	// Labels: model, mode, status
	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prismapilot_query_duration_seconds",
			Help:    "List request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model", "mode", "status"},
	)

	// queriesTotal counts list requests.
	// Labels: model, mode, status
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prismapilot_queries_total",
			Help: "Total number of list requests",
		},
		[]string{"model", "mode", "status"},
	)

	// slowQueriesTotal counts requests above the slow threshold.
	slowQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prismapilot_slow_queries_total",
			Help: "Total number of list requests slower than the slow threshold",
		},
		[]string{"model"},
	)

	// queryResultRows tracks the number of rows returned per request.
	queryResultRows = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prismapilot_query_result_rows",
			Help:    "Rows returned per list request",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		},
		[]string{"model"},
	)
)
