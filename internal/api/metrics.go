package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments exported at /metrics.
type Metrics struct {
	RunsStarted     prometheus.Counter
	RunsCompleted   prometheus.Counter
	RunsFailed      prometheus.Counter
	RunDuration     prometheus.Histogram
	TradesSimulated prometheus.Counter
	WSClients       prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates and registers the server metrics on a private registry
// so repeated construction in tests never double-registers.
func NewMetrics() *Metrics {
	m := &Metrics{
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtester_runs_started_total",
			Help: "Total number of backtest runs started",
		}),
		RunsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtester_runs_completed_total",
			Help: "Total number of backtest runs completed successfully",
		}),
		RunsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtester_runs_failed_total",
			Help: "Total number of backtest runs that failed or were cancelled",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtester_run_duration_seconds",
			Help:    "Wall-clock duration of backtest runs in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		TradesSimulated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtester_trades_simulated_total",
			Help: "Total number of trades simulated across all runs",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backtester_ws_clients",
			Help: "Number of connected progress stream clients",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtester_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtester_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.RunsStarted,
		m.RunsCompleted,
		m.RunsFailed,
		m.RunDuration,
		m.TradesSimulated,
		m.WSClients,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records per-request counts and latency. The route label is the
// matched route pattern rather than the raw path so cardinality stays
// bounded.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.Observe(time.Since(start).Seconds())
	}
}
