// Package metrics exposes Prometheus collectors for the dashboard service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secheresse_downloads_total",
			Help: "Total number of dataset downloads, labeled by source and status.",
		},
		[]string{"source", "status"},
	)

	downloadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secheresse_download_bytes_total",
			Help: "Total number of bytes downloaded, labeled by source.",
		},
		[]string{"source"},
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

	refreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secheresse_refresh_total",
			Help: "Total number of dataset refreshes, labeled by status.",
		},
		[]string{"status"},
	)

	zonesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "secheresse_zones",
			Help: "Number of surface-water restriction zones currently displayed.",
		},
	)

	departmentsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "secheresse_departments",
			Help: "Departments under restriction, labeled by horizon, scope (fr or network) and level.",
		},
		[]string{"horizon", "scope", "level"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDownload records one dataset download.
func ObserveDownload(source, status string, bytesFetched int) {
	if source == "" {
		source = "unknown"
	}
	downloadsTotal.WithLabelValues(source, status).Inc()
	if bytesFetched > 0 {
		downloadBytesTotal.WithLabelValues(source).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRefresh counts a refresh outcome ("ok", "partial" or "error").
func ObserveRefresh(status string) {
	refreshTotal.WithLabelValues(status).Inc()
}

// SetZones records the number of displayed zones.
func SetZones(n int) {
	zonesGauge.Set(float64(n))
}

// SetDepartments records one indicator cell.
func SetDepartments(horizon, scope, level string, n int) {
	departmentsGauge.WithLabelValues(horizon, scope, level).Set(float64(n))
}
