// Package metrics exposes Prometheus collectors for the monitor.
package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapesTotal               *prometheus.CounterVec
	reportCount                *prometheus.GaugeVec
	alertsTotal                *prometheus.CounterVec
	consecutiveFailedCycles    prometheus.Gauge
	browserStartsTotal         *prometheus.CounterVec
	cycleDurationSeconds       prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

var labelRe = regexp.MustCompile(`^[a-z0-9-]+$`)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scrapesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddbot_scrapes_total",
				Help: "Total scrape outcomes, labeled by service, tier and status.",
			},
			[]string{"service", "tier", "status"},
		)

		reportCount = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ddbot_report_count",
				Help: "Most recent report count seen per service.",
			},
			[]string{"service"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddbot_alerts_total",
				Help: "Alert decisions, labeled by service and outcome.",
			},
			[]string{"service", "outcome"},
		)

		consecutiveFailedCycles = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ddbot_consecutive_failed_cycles",
				Help: "Poll cycles in a row where every scrape failed.",
			},
		)

		browserStartsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddbot_browser_starts_total",
				Help: "Browser session start attempts, labeled by result.",
			},
			[]string{"result"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ddbot_cycle_duration_seconds",
				Help:    "Wall time of a full poll cycle.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
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

// SanitizeService lower-cases a service slug for use as a label.
// It returns "unknown" for anything that is not a valid slug.
func SanitizeService(service string) string {
	s := strings.ToLower(strings.TrimSpace(service))
	if !labelRe.MatchString(s) {
		return "unknown"
	}
	return s
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveScrape counts one final scrape outcome.
func ObserveScrape(service, tier, status string) {
	Init()
	scrapesTotal.WithLabelValues(SanitizeService(service), tier, status).Inc()
}

// ObserveReportCount records the latest count for a service.
func ObserveReportCount(service string, count int) {
	Init()
	reportCount.WithLabelValues(SanitizeService(service)).Set(float64(count))
}

// ObserveAlert counts an alert decision (sent, suppressed, undelivered).
func ObserveAlert(service, outcome string) {
	Init()
	alertsTotal.WithLabelValues(SanitizeService(service), outcome).Inc()
}

// SetConsecutiveFailures publishes the all-fail cycle streak.
func SetConsecutiveFailures(n int) {
	Init()
	consecutiveFailedCycles.Set(float64(n))
}

// ObserveBrowserStart counts a browser start attempt.
func ObserveBrowserStart(result string) {
	Init()
	browserStartsTotal.WithLabelValues(result).Inc()
}

// ObserveCycle records how long a poll cycle took.
func ObserveCycle(duration time.Duration) {
	Init()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
