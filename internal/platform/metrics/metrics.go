// Package metrics holds the process-wide HTTP metrics recorded by the
// router chain. Feature packages carry their own metric sets.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the HTTP surface.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers the HTTP metrics.
func New() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certmint_http_requests_total",
			Help: "Total HTTP requests by route pattern, method, and status code",
		}, []string{"route", "method", "status"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certmint_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and method",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"route", "method"}),
	}
}

// ObserveRequest records one completed request. Safe on a nil receiver so
// wiring can omit metrics entirely.
func (m *Metrics) ObserveRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}
