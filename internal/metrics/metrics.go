// Package metrics exposes Prometheus collectors for the bot.
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
	tasksClaimedTotal        *prometheus.CounterVec
	commitsTotal             *prometheus.CounterVec
	taskFailuresTotal        *prometheus.CounterVec
	fetchBytesTotal          *prometheus.CounterVec
	fetchDurationSeconds     *prometheus.HistogramVec
	politenessDelaySeconds   *prometheus.HistogramVec
	queueDepth               *prometheus.GaugeVec
	activeWorkers            prometheus.Gauge
	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDurationSecs  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than
// once.
func Init() {
	once.Do(func() {
		tasksClaimedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_tasks_claimed_total",
				Help: "Total tasks claimed by workers, labeled by action.",
			},
			[]string{"action"},
		)

		commitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_commits_total",
				Help: "Total successful content commits, labeled by action and backend.",
			},
			[]string{"action", "backend"},
		)

		taskFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_task_failures_total",
				Help: "Total task failures, labeled by failure kind.",
			},
			[]string{"kind"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_fetch_bytes_total",
				Help: "Total bytes fetched, labeled by host.",
			},
			[]string{"host"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bot_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by action.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 15, 45},
			},
			[]string{"action"},
		)

		politenessDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bot_politeness_delay_seconds",
				Help:    "Histogram of time spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.25, 1, 5, 15, 60},
			},
			[]string{"host"},
		)

		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bot_queue_depth",
				Help: "Tasks in the queue, labeled by state (pending, transient, permanent).",
			},
			[]string{"state"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bot_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveClaim records a claimed task.
func ObserveClaim(action string) {
	tasksClaimedTotal.WithLabelValues(action).Inc()
}

// ObserveCommit records a successful commit.
func ObserveCommit(action, backend string) {
	commitsTotal.WithLabelValues(action, backend).Inc()
}

// ObserveFailure records a task failure by kind.
func ObserveFailure(kind string) {
	taskFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveFetch records bytes and latency for one fetch.
func ObserveFetch(host, action string, bytesFetched int, duration time.Duration) {
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(host).Add(float64(bytesFetched))
	}
	fetchDurationSeconds.WithLabelValues(action).Observe(duration.Seconds())
}

// ObservePolitenessDelay records how long a worker waited for a host's
// rate limit token.
func ObservePolitenessDelay(host string, delay time.Duration) {
	politenessDelaySeconds.WithLabelValues(host).Observe(delay.Seconds())
}

// SetQueueDepth updates the queue depth gauges.
func SetQueueDepth(pending, transient, permanent int) {
	queueDepth.WithLabelValues("pending").Set(float64(pending))
	queueDepth.WithLabelValues("transient").Set(float64(transient))
	queueDepth.WithLabelValues("permanent").Set(float64(permanent))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the admin API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecs.WithLabelValues(method, route).Observe(duration.Seconds())
}
