// Package metrics exposes the process-wide Prometheus collectors for the
// spider engine and the control API.
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
	spiderPagesTotal           *prometheus.CounterVec
	spiderBytesTotal           *prometheus.CounterVec
	spiderRobotsFallbackTotal  prometheus.Counter
	spiderActiveEngines        prometheus.Gauge
	spiderRateLimitDelays      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call more than once; the Observe helpers call it themselves.
func Init() {
	once.Do(func() {
		spiderPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spider_pages_total",
				Help: "Pages read by spider engines, labeled by site and status class.",
			},
			[]string{"site", "status_class"},
		)

		spiderBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spider_bytes_total",
				Help: "Response bytes read by spider engines, labeled by site.",
			},
			[]string{"site"},
		)

		spiderRobotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "spider_robots_fallback_total",
				Help: "robots.txt probes that fell back to allow-all after TLS handshake timeouts.",
			},
		)

		spiderActiveEngines = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "spider_active_engines",
				Help: "Number of fetch engines currently crawling.",
			},
		)

		spiderRateLimitDelays = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spider_rate_limit_delay_seconds",
				Help:    "Time requests spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of control API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Control API latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite reduces a URL to its lowercase hostname, or "unknown".
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

// StatusClass groups an HTTP status code as "2xx", "3xx", "4xx", "5xx" or
// "other".
func StatusClass(code int) string {
	if code >= 200 && code < 600 {
		return strconv.Itoa(code/100) + "xx"
	}
	return "other"
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts a page read from rawURL.
func ObservePage(rawURL string, statusCode, bytesRead int) {
	Init()
	site := SanitizeSite(rawURL)
	spiderPagesTotal.WithLabelValues(site, StatusClass(statusCode)).Inc()
	if bytesRead > 0 {
		spiderBytesTotal.WithLabelValues(site).Add(float64(bytesRead))
	}
}

// ObserveRobotsFallback counts a robots.txt allow-all fallback.
func ObserveRobotsFallback() {
	Init()
	spiderRobotsFallbackTotal.Inc()
}

// IncActiveEngines marks an engine as crawling.
func IncActiveEngines() {
	Init()
	spiderActiveEngines.Inc()
}

// DecActiveEngines marks an engine as done.
func DecActiveEngines() {
	Init()
	spiderActiveEngines.Dec()
}

// ObserveRateLimitDelay records time spent waiting for a rate limit token.
func ObserveRateLimitDelay(domain string, d time.Duration) {
	Init()
	spiderRateLimitDelays.WithLabelValues(domain).Observe(d.Seconds())
}

// ObserveHTTPRequest records one control API request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
