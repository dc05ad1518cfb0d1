// Package metrics exposes Prometheus collectors for the archiver
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsResolvedTotal     *prometheus.CounterVec
	jobDurationSeconds    *prometheus.HistogramVec
	jobsEnqueuedTotal     *prometheus.CounterVec
	sitesProcessedTotal   prometheus.Counter
	sitesSkippedTotal     *prometheus.CounterVec
	runErrorsTotal        prometheus.Counter
	runsTotal             *prometheus.CounterVec
	queueDepth            prometheus.Gauge
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDurationMs *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry; repeat calls are no-ops
func Init() {
	once.Do(func() {
		jobsResolvedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_jobs_resolved_total",
				Help: "Archiving jobs resolved, labeled by granularity and outcome.",
			},
			[]string{"granularity", "outcome"},
		)
		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_job_duration_seconds",
				Help:    "Time spent fetching one archiving job response.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"granularity"},
		)
		jobsEnqueuedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_jobs_enqueued_total",
				Help: "Archiving jobs enqueued, labeled by granularity.",
			},
			[]string{"granularity"},
		)
		sitesProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "archiver_sites_processed_total",
			Help: "Sites whose in-flight jobs fully drained.",
		})
		sitesSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_sites_skipped_total",
				Help: "Sites skipped, labeled by reason.",
			},
			[]string{"reason"},
		)
		runErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "archiver_run_errors_total",
			Help: "Errors accumulated across runs.",
		})
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_runs_total",
				Help: "Completed runs, labeled by kind (fresh or continuation) and status.",
			},
			[]string{"kind", "status"},
		)
		queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "archiver_queue_depth",
			Help: "Jobs waiting or leased in the shared queue at last peek.",
		})
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_http_requests_total",
				Help: "Status API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationMs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_http_request_duration_ms",
				Help:    "Status API latency in milliseconds.",
				Buckets: []float64{1, 5, 25, 100, 500},
			},
			[]string{"method"},
		)
	})
}

// Handler serves the default registry
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveJob counts one resolved job
func ObserveJob(granularity, outcome string) {
	Init()
	jobsResolvedTotal.WithLabelValues(granularity, outcome).Inc()
}

// ObserveFetch records how long one job took to fetch
func ObserveFetch(granularity string, d time.Duration) {
	Init()
	jobDurationSeconds.WithLabelValues(granularity).Observe(d.Seconds())
}

// ObserveEnqueue counts one enqueued job
func ObserveEnqueue(granularity string) {
	Init()
	jobsEnqueuedTotal.WithLabelValues(granularity).Inc()
}

// ObserveSiteProcessed counts one fully drained site
func ObserveSiteProcessed() {
	Init()
	sitesProcessedTotal.Inc()
}

// ObserveSkip counts one skipped site
func ObserveSkip(reason string) {
	Init()
	sitesSkippedTotal.WithLabelValues(reason).Inc()
}

// ObserveRunError counts one accumulated run error
func ObserveRunError() {
	Init()
	runErrorsTotal.Inc()
}

// ObserveRun counts one finished run
func ObserveRun(kind, status string) {
	Init()
	runsTotal.WithLabelValues(kind, status).Inc()
}

// SetQueueDepth records the last peeked queue size
func SetQueueDepth(n int64) {
	Init()
	queueDepth.Set(float64(n))
}

// ObserveHTTPRequest records one status API request
func ObserveHTTPRequest(method string, code int, d time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationMs.WithLabelValues(method).Observe(float64(d.Microseconds()) / 1000)
}
