// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Update outcomes recorded by RecordUpdate.
const (
	UpdateRefreshed = "refreshed"
	UpdateThrottled = "throttled"
	UpdateError     = "error"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Feed metrics
	UpdatesTotal        *prometheus.CounterVec
	HistoricalQueries   *prometheus.CounterVec
	EvaluationLatency   *prometheus.HistogramVec
	CurrentPrice        *prometheus.GaugeVec
	LastUpdateTimestamp *prometheus.GaugeVec

	// Chain metrics
	RPCCallLatency   *prometheus.HistogramVec
	BlockLookups     *prometheus.CounterVec
	HeadsReceived    prometheus.Counter
	HighestBlockSeen prometheus.Gauge

	// Storage metrics
	StoreWriteDuration *prometheus.HistogramVec
	StoreWriteErrors   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Health metrics
	SchedulerRuns prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "redemption_feed"
	}

	return &Metrics{
		UpdatesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "updates_total",
			Help:      "Total number of feed update calls by outcome",
		}, []string{"feed", "outcome"}),
		HistoricalQueries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "historical_queries_total",
			Help:      "Total number of historical price queries by status",
		}, []string{"feed", "status"}),
		EvaluationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "evaluation_latency_seconds",
			Help:      "Latency of a full read-decode-evaluate cycle in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"feed"}),
		CurrentPrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "current_price",
			Help:      "Most recent price, unscaled by feed decimals",
		}, []string{"feed"}),
		LastUpdateTimestamp: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "last_update_timestamp",
			Help:      "Unix timestamp of the last successful refresh",
		}, []string{"feed"}),

		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		BlockLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "block_lookups_total",
			Help:      "Timestamp to block resolutions by cache result",
		}, []string{"result"}),
		HeadsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "heads_received_total",
			Help:      "Total number of new block headers received",
		}),
		HighestBlockSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "highest_block_seen",
			Help:      "Highest block number seen on the head subscription",
		}),

		StoreWriteDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "write_duration_seconds",
			Help:      "Feed state write duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"driver"}),
		StoreWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "write_errors_total",
			Help:      "Total number of feed state write errors",
		}, []string{"driver"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		SchedulerRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "scheduler_runs_total",
			Help:      "Total number of scheduler ticks",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordUpdate counts a feed update call by outcome.
func RecordUpdate(feed, outcome string) {
	DefaultMetrics.UpdatesTotal.WithLabelValues(feed, outcome).Inc()
}

// RecordHistoricalQuery counts a historical query.
func RecordHistoricalQuery(feed string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.HistoricalQueries.WithLabelValues(feed, status).Inc()
}

// RecordEvaluation records the latency of one evaluation cycle.
func RecordEvaluation(feed string, seconds float64) {
	DefaultMetrics.EvaluationLatency.WithLabelValues(feed).Observe(seconds)
}

// UpdateFeedState sets the price and last update gauges of a feed.
func UpdateFeedState(feed string, price float64, lastUpdate int64) {
	DefaultMetrics.CurrentPrice.WithLabelValues(feed).Set(price)
	DefaultMetrics.LastUpdateTimestamp.WithLabelValues(feed).Set(float64(lastUpdate))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordBlockLookup counts a block resolution as a cache "hit" or "miss".
func RecordBlockLookup(result string) {
	DefaultMetrics.BlockLookups.WithLabelValues(result).Inc()
}

// RecordHead records a new chain head.
func RecordHead(number int64) {
	DefaultMetrics.HeadsReceived.Inc()
	DefaultMetrics.HighestBlockSeen.Set(float64(number))
}

// RecordStoreWrite records feed state write metrics.
func RecordStoreWrite(driver string, seconds float64, err error) {
	DefaultMetrics.StoreWriteDuration.WithLabelValues(driver).Observe(seconds)
	if err != nil {
		DefaultMetrics.StoreWriteErrors.WithLabelValues(driver).Inc()
	}
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, route, status string, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(method, route, status).Inc()
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// RecordSchedulerRun counts a scheduler tick.
func RecordSchedulerRun() {
	DefaultMetrics.SchedulerRuns.Inc()
}
