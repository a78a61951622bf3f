// Package metrics exposes the engine's Prometheus surface: order
// throughput and latency, liquidations, feed health, active exposure, and
// subscriber fan-out drops. Grounded on the teacher's monitoring package,
// trimmed to what this engine actually emits.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paperfx_orders_total",
			Help: "Total orders submitted, by type and outcome.",
		},
		[]string{"order_type", "outcome"},
	)

	OrderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paperfx_order_execution_latency_milliseconds",
			Help:    "Order submit-to-result latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"order_type"},
	)

	LiquidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paperfx_liquidations_total",
			Help: "Total forced liquidations, by symbol.",
		},
		[]string{"symbol"},
	)

	FeedReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "paperfx_feed_reconnects_total",
			Help: "Total market feed connection drops that started a reconnect loop.",
		},
	)

	ActivePositions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paperfx_active_positions",
			Help: "Open positions by symbol and side.",
		},
		[]string{"symbol", "side"},
	)

	SubscriberDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paperfx_subscriber_queue_drops_total",
			Help: "Push events dropped because a subscriber's queue was full.",
		},
		[]string{"channel"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "paperfx_order_queue_depth",
			Help: "Approximate depth of the orders_queue worker backlog.",
		},
	)
)

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
