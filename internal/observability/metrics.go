package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentals_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rentals_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconcileCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentals_reconcile_cycles_total",
			Help: "Reconciliation cycles by result",
		},
		[]string{"result"},
	)

	ReconcileTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentals_reconcile_transitions_total",
			Help: "Booking status transitions committed by the reconciler",
		},
		[]string{"to"},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rentals_reconcile_cycle_seconds",
			Help:    "Duration of reconciliation cycles",
			Buckets: prometheus.DefBuckets,
		},
	)

	AnalyticsDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rentals_analytics_compute_seconds",
			Help:    "Duration of system analytics computations",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rentals_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rentals_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rentals_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	initMetrics sync.Once
)

// InitMetrics registers the collectors with the default registry. Safe to
// call more than once.
func InitMetrics() {
	initMetrics.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			DBTxDuration,
			ReconcileCycles,
			ReconcileTransitions,
			ReconcileDuration,
			AnalyticsDuration,
			OutboxLag,
			RabbitPublishRetries,
			RateLimitExceeded,
		)
	})
}

// NewMetricsServer serves the default registry on /metrics. Worker processes
// without an API router run it next to their scheduler.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
