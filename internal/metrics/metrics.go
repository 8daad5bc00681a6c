// Package metrics exposes Prometheus collectors for the crawler service.
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
	crawlerRequestsTotal       *prometheus.CounterVec
	crawlerStatusTotal         *prometheus.CounterVec
	crawlerResponsesTotal      *prometheus.CounterVec
	crawlerRecordsTotal        prometheus.Counter
	crawlerRunsTotal           *prometheus.CounterVec
	crawlerRunActive           prometheus.Gauge
	crawlerRateLimitDelay      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_requests_total",
				Help: "Total number of HTTP requests sent, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerStatusTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_status_codes_total",
				Help: "Total number of responses by status code, labeled by site and code.",
			},
			[]string{"site", "code"},
		)

		crawlerResponsesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_responses_total",
				Help: "Total number of successful fetches, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_records_total",
				Help: "Total number of records written to output files.",
			},
		)

		crawlerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_runs_total",
				Help: "Total number of finished runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerRunActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_run_active",
				Help: "1 while a crawl run is in progress.",
			},
		)

		crawlerRateLimitDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host rate limiter, labeled by site.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
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

// Counters forwards fetch accounting for one site to the collectors.
// It implements fetcher.Counters.
type Counters struct {
	site string
}

// NewCounters returns Counters labeled with the host of siteURL.
func NewCounters(siteURL string) *Counters {
	Init()
	return &Counters{site: SanitizeSite(siteURL)}
}

// RequestSent counts one outgoing request.
func (c *Counters) RequestSent() {
	crawlerRequestsTotal.WithLabelValues(c.site).Inc()
}

// StatusReceived counts one response status.
func (c *Counters) StatusReceived(code int) {
	crawlerStatusTotal.WithLabelValues(c.site, strconv.Itoa(code)).Inc()
}

// ResponseReceived counts one successful fetch.
func (c *Counters) ResponseReceived() {
	crawlerResponsesTotal.WithLabelValues(c.site).Inc()
}

// ObserveRun records a finished run and the records it wrote.
func ObserveRun(outcome string, records int) {
	crawlerRunsTotal.WithLabelValues(outcome).Inc()
	if records > 0 {
		crawlerRecordsTotal.Add(float64(records))
	}
}

// SetRunActive flips the active run gauge.
func SetRunActive(active bool) {
	if active {
		crawlerRunActive.Set(1)
		return
	}
	crawlerRunActive.Set(0)
}

// ObserveRateLimitDelay records a rate limiter wait for host.
func ObserveRateLimitDelay(host string, waited time.Duration) {
	Init()
	crawlerRateLimitDelay.WithLabelValues(strings.ToLower(host)).Observe(waited.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
