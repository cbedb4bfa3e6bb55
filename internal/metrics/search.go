package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search, cache, ingestion and scheduler metrics.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dsearch",
			Name:      "search_requests_total",
			Help:      "Routed search queries by mode and outcome",
		},
		[]string{"mode", "outcome"}, // ok / degraded / unavailable / invalid / cached
	)

	SearchCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dsearch",
			Name:      "search_cache_total",
			Help:      "Result cache lookups",
		},
		[]string{"result"}, // hit / miss / error / bypass
	)

	SearchBackendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dsearch",
			Name:      "search_backend_duration_seconds",
			Help:      "Latency of a single backend call during a routed query",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"backend"},
	)

	SearchBackendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dsearch",
			Name:      "search_backend_failures_total",
			Help:      "Backend failures during routed queries",
		},
		[]string{"backend", "status"},
	)

	CacheWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dsearch",
			Name:      "cache_write_failures_total",
			Help:      "Result cache writes that failed",
		},
	)

	CacheWritesSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dsearch",
			Name:      "cache_writes_skipped_total",
			Help:      "Result cache writes skipped because a document was invalidated mid-query",
		},
	)

	IngestDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dsearch",
			Name:      "ingest_documents_total",
			Help:      "Ingested documents by outcome",
		},
		[]string{"status", "error_kind"},
	)

	IngestJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dsearch",
			Name:      "ingest_jobs_total",
			Help:      "Finished ingestion jobs by final status",
		},
		[]string{"status"},
	)

	SchedulerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dsearch",
			Name:      "scheduler_runs_total",
			Help:      "Scheduled task runs by result",
		},
		[]string{"job", "result"}, // ok / failed
	)

	SchedulerSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dsearch",
			Name:      "scheduler_skips_total",
			Help:      "Scheduled fires skipped because the job was still running",
		},
		[]string{"job"},
	)
)

var serviceMetricsRegistered bool

// RegisterServiceMetrics registers the search, cache, ingestion and scheduler
// metrics. Must be called once from main.
func RegisterServiceMetrics() {
	if serviceMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		SearchRequestsTotal,
		SearchCacheTotal,
		SearchBackendDuration,
		SearchBackendFailuresTotal,
		CacheWriteFailuresTotal,
		CacheWritesSkippedTotal,
		IngestDocumentsTotal,
		IngestJobsTotal,
		SchedulerRunsTotal,
		SchedulerSkipsTotal,
	)
	serviceMetricsRegistered = true
}
