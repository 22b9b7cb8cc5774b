// Package metrics provides Prometheus instrumentation for the trading engine.
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
	// OrdersPlaced counts accepted orders, partitioned by side and outcome
	// (filled or queued).
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_orders_placed_total",
		Help: "Accepted orders by side and outcome",
	}, []string{"side", "outcome"})

	// OrdersRejected counts orders refused by market-rule validation,
	// partitioned by side and rejection kind.
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_orders_rejected_total",
		Help: "Orders rejected by validation",
	}, []string{"side", "kind"})

	// OrdersCancelled counts user-initiated cancellations.
	OrdersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_orders_cancelled_total",
		Help: "Orders cancelled before filling",
	}, []string{"side"})

	// FillsTotal counts order fills by side and trigger (immediate or monitor).
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_fills_total",
		Help: "Order fills by side and trigger",
	}, []string{"side", "trigger"})

	// PendingOrders tracks the number of orders awaiting a fill.
	PendingOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrade_pending_orders",
		Help: "Orders currently awaiting a fill",
	})

	// MonitorScanDuration tracks how long a pending-order scan takes.
	MonitorScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "papertrade_monitor_scan_duration_seconds",
		Help:    "Duration of pending-order monitor scans",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})

	// QuoteFetchErrors counts failed quote lookups.
	QuoteFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_quote_fetch_errors_total",
		Help: "Failed quote fetches",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrade_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
