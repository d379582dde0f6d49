// Package metrics provides Prometheus collectors for the API and the worker.
// Scrape them at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"packrip/internal/trade"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packrip_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "packrip_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Trades
	TradeOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packrip_trade_operations_total",
			Help: "Trade engine operations by outcome kind",
		},
		[]string{"op", "outcome"},
	)

	TradesExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "packrip_trades_expired_total",
			Help: "Pending trades moved to expired by the sweeper",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "packrip_sweep_duration_seconds",
			Help:    "Time taken by one expiry sweep",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	SweepSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "packrip_sweep_skipped_total",
			Help: "Sweeps skipped because another worker held the lock",
		},
	)

	// Packs and cards
	PacksOpenedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packrip_packs_opened_total",
			Help: "Packs opened by pack type",
		},
		[]string{"pack_type"},
	)

	CardsMintedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packrip_cards_minted_total",
			Help: "Cards minted by rarity",
		},
		[]string{"rarity"},
	)

	// Realtime
	RealtimeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "packrip_realtime_subscribers",
			Help: "Open event stream subscriptions",
		},
	)

	RealtimeEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "packrip_realtime_events_total",
			Help: "Trade events relayed from the database",
		},
	)
)

// ObserveTrade is a trade.Engine observer.
func ObserveTrade(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(trade.KindOf(err))
		if outcome == "" {
			outcome = "unknown"
		}
	}
	TradeOpsTotal.WithLabelValues(op, outcome).Inc()
}

// Middleware records request counts and latency labelled by the matched chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
