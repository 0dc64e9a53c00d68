// Package metrics provides Prometheus instrumentation for the pool and the
// position engine.
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
	"github.com/shopspring/decimal"

	"github.com/atmx/margin-pool/internal/model"
)

var (
	// OperationsTotal counts committed engine operations.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_pool_operations_total",
		Help: "Total number of committed engine operations",
	}, []string{"op"})

	// OperationLatency tracks engine operation latency, including rejected ones.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "margin_pool_operation_latency_seconds",
		Help:    "Engine operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// RejectedOperations counts failed operations by error kind.
	RejectedOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_pool_rejected_operations_total",
		Help: "Engine operations rejected, by error kind",
	}, []string{"op", "kind"})

	// Volume tracks cumulative amounts moved, in whole units.
	Volume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_pool_volume_units_total",
		Help: "Cumulative amounts deposited, withdrawn, borrowed and repaid",
	}, []string{"asset", "flow"})

	// FeesCollected tracks fees credited to the pool, in whole units.
	FeesCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_pool_fees_units_total",
		Help: "Cumulative fees credited to the pool",
	}, []string{"asset"})

	// SLPSupply tracks the share token supply after each deposit or withdrawal.
	SLPSupply = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "margin_pool_slp_supply_units",
		Help: "Outstanding share token supply",
	})

	// PositionEvents counts position lifecycle transitions.
	PositionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_pool_position_events_total",
		Help: "Position lifecycle transitions",
	}, []string{"event"})

	// OraclePrice tracks the last price pushed through the admin API.
	OraclePrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "margin_pool_oracle_price",
		Help: "Last price written for an asset",
	}, []string{"asset"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "margin_pool_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_pool_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "margin_pool_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

var scalar = decimal.NewFromInt(10_000_000)

// Units converts a scaled amount to a float for gauges and counters.
func Units(amount decimal.Decimal) float64 {
	return amount.Div(scalar).InexactFloat64()
}

// Observe records the outcome of an engine operation started at start.
func Observe(op string, start time.Time, err error) {
	OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err == nil {
		OperationsTotal.WithLabelValues(op).Inc()
		return
	}
	kind := "Internal"
	if e, ok := model.CodeOf(err); ok {
		kind = e.Name
	}
	RejectedOperations.WithLabelValues(op, kind).Inc()
}

// AddVolume adds a non-negative scaled amount to the volume counter.
func AddVolume(asset, flow string, amount decimal.Decimal) {
	if amount.IsPositive() {
		Volume.WithLabelValues(asset, flow).Add(Units(amount))
	}
}

// AddFee adds a positive fee to the fee counter. Negative fees (written
// down bad debt) are not counted.
func AddFee(asset string, fee decimal.Decimal) {
	if fee.IsPositive() {
		FeesCollected.WithLabelValues(asset).Add(Units(fee))
	}
}

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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
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

// Hijack lets the WebSocket upgrader take over connections behind the
// middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
