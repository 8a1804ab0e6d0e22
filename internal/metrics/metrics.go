// Package metrics exposes Prometheus collectors for the restock checker.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	checksTotal                *prometheus.CounterVec
	verdictsTotal              *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	escalationsTotal           prometheus.Counter
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchBytesTotal            *prometheus.CounterVec
	robotsFallbackTotal        prometheus.Counter
	activeFetches              prometheus.Gauge
	renderWaitSeconds          *prometheus.HistogramVec
	runsTotal                  *prometheus.CounterVec
	lastRunTimestamp           *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restock_checks_total",
				Help: "Total number of target checks, labeled by mode and fetch outcome.",
			},
			[]string{"mode", "outcome"},
		)

		verdictsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restock_verdicts_total",
				Help: "Total number of stock verdicts, labeled by mode and verdict.",
			},
			[]string{"mode", "verdict"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restock_notifications_total",
				Help: "Total notification attempts, labeled by result.",
			},
			[]string{"result"},
		)

		escalationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "restock_escalations_total",
				Help: "Total targets queued for confirmation.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restock_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by mode.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"mode"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restock_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "restock_robots_fallback_total",
				Help: "robots.txt probes that timed out and fell back to allow-all.",
			},
		)

		activeFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "restock_active_fetches",
				Help: "Number of fetches currently in flight.",
			},
		)

		renderWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restock_render_wait_seconds",
				Help:    "Histogram of per-domain rate limit waits before rendering.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restock_runs_total",
				Help: "Total checker runs, labeled by mode and status.",
			},
			[]string{"mode", "status"},
		)

		lastRunTimestamp = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "restock_last_run_timestamp_seconds",
				Help: "Unix time of the last completed run, labeled by mode.",
			},
			[]string{"mode"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCheck records one classified fetch.
func ObserveCheck(mode, outcome, site string, bytesFetched int, duration time.Duration) {
	Init()
	checksTotal.WithLabelValues(mode, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(SanitizeSite(site)).Add(float64(bytesFetched))
	}
}

// ObserveVerdict counts a decided verdict.
func ObserveVerdict(mode, verdict string) {
	Init()
	verdictsTotal.WithLabelValues(mode, verdict).Inc()
}

// ObserveNotification counts a notification attempt by result
// ("sent", "failed" or "skipped").
func ObserveNotification(result string) {
	Init()
	notificationsTotal.WithLabelValues(result).Inc()
}

// ObserveEscalations adds n queued confirmations.
func ObserveEscalations(n int) {
	Init()
	if n > 0 {
		escalationsTotal.Add(float64(n))
	}
}

// ObserveRobotsFallback increments the robots.txt fallback counter.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}

// IncActiveFetches increments the in-flight fetch gauge.
func IncActiveFetches() {
	Init()
	activeFetches.Inc()
}

// DecActiveFetches decrements the in-flight fetch gauge.
func DecActiveFetches() {
	Init()
	activeFetches.Dec()
}

// ObserveRenderWait records the duration of a rate limit wait.
func ObserveRenderWait(domain string, duration time.Duration) {
	Init()
	renderWaitSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRun records a finished run.
func ObserveRun(mode string, err error, finished time.Time) {
	Init()
	status := "ok"
	if err != nil {
		status = "error"
	}
	runsTotal.WithLabelValues(mode, status).Inc()
	lastRunTimestamp.WithLabelValues(mode).Set(float64(finished.Unix()))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
