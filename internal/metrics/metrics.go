// Package metrics provides Prometheus instrumentation for the settlement engine.
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
	// SettlementsTotal counts settled trades, partitioned by side.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradefloor_settlements_total",
		Help: "Total number of trades settled",
	}, []string{"side"})

	// SettlementErrors counts failed settlements by rejection reason.
	SettlementErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradefloor_settlement_errors_total",
		Help: "Settlements rejected or rolled back, by reason",
	}, []string{"reason"})

	// SettlementLatency tracks end-to-end settlement latency.
	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradefloor_settlement_latency_seconds",
		Help:    "Settlement execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// LeaderboardUpdateFailures counts post-commit ranking updates that were
	// logged and swallowed. Each one leaves the day's ranking understated.
	LeaderboardUpdateFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradefloor_leaderboard_update_failures_total",
		Help: "Best-effort leaderboard updates that failed after commit",
	})

	// QuotesConsumed counts price snapshots applied from the feed.
	QuotesConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradefloor_quotes_consumed_total",
		Help: "Stock price updates consumed from the feed",
	})

	// VolatilityAlerts counts alerts emitted by the volatility analyzer.
	VolatilityAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradefloor_volatility_alerts_total",
		Help: "Volatility alerts emitted",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradefloor_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradefloor_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradefloor_http_request_duration_seconds",
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

		// Use the raw path for the label; route cardinality stays low.
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
