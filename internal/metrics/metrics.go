// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QuotesTotal counts quotes computed, partitioned by side and outcome
	// ("feasible" or the rejection reason).
	QuotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policast_quotes_total",
		Help: "Total number of trade quotes computed",
	}, []string{"side", "outcome"})

	// OrdersTotal counts orders accepted into the ledger, partitioned by side.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policast_orders_total",
		Help: "Total number of orders submitted",
	}, []string{"side"})

	// OrderRejections counts orders refused at the submission gate.
	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policast_order_rejections_total",
		Help: "Orders rejected before submission",
	}, []string{"reason"})

	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "policast_order_latency_seconds",
		Help:    "Order validation and submission latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// ActiveMarkets tracks the number of markets open for trading as of the
	// last listing.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "policast_active_markets",
		Help: "Number of currently active markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "policast_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policast_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "policast_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// MarketVolume tracks cumulative traded amount per market in display
	// units, the same measure as Market.TotalVolume.
	MarketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policast_market_volume_total",
		Help: "Cumulative traded amount",
	}, []string{"market_id", "side"})
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern prefers the matched chi pattern so path parameters do not
// explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
