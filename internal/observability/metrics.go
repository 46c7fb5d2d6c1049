// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Lifecycle metrics
	Transitions     *prometheus.CounterVec
	IssuanceIntents prometheus.Counter
	AssetsFrozen    prometheus.Counter

	// Trading metrics
	PrimaryPurchases  prometheus.Counter
	PrimaryUnitsSold  prometheus.Counter
	ListingsCreated   prometheus.Counter
	ListingsFilled    prometheus.Counter
	ListingsCancelled prometheus.Counter
	TradingRejections *prometheus.CounterVec

	// Scheduler metrics
	SweepRuns        *prometheus.CounterVec
	SweepTransitions prometheus.Counter
	SweepDuration    prometheus.Histogram

	// Distribution metrics
	DistributionEvents prometheus.Counter
	PayoutLinesCreated prometheus.Counter
	PayoutLinesSettled prometheus.Counter
	PayoutLinesFailed  prometheus.Counter
	PayoutLinesRetried prometheus.Counter
	DistributionClosed *prometheus.CounterVec

	// Settlement metrics
	SettlementCallbacks *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "proptoken_engine"
	}

	return &Metrics{
		// Lifecycle metrics
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Total number of asset status transitions by target status",
		}, []string{"to"}),
		IssuanceIntents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "issuance_intents_total",
			Help:      "Total number of mint intents sent to the settlement gateway",
		}),
		AssetsFrozen: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "assets_frozen_total",
			Help:      "Total number of assets frozen on invariant violation",
		}),

		// Trading metrics
		PrimaryPurchases: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "primary_purchases_total",
			Help:      "Total number of successful primary purchases",
		}),
		PrimaryUnitsSold: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "primary_units_sold_total",
			Help:      "Total units sold through primary purchases",
		}),
		ListingsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "listings_created_total",
			Help:      "Total number of marketplace listings created",
		}),
		ListingsFilled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "listings_filled_total",
			Help:      "Total number of listing fills, including partial fills",
		}),
		ListingsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "listings_cancelled_total",
			Help:      "Total number of listings cancelled",
		}),
		TradingRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "rejections_total",
			Help:      "Total number of rejected trading operations by reason",
		}, []string{"reason"}),

		// Scheduler metrics
		SweepRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "sweep_runs_total",
			Help:      "Total number of sale-window sweeps by status",
		}, []string{"status"}),
		SweepTransitions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "sweep_transitions_total",
			Help:      "Total number of asset transitions applied by sweeps",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "sweep_duration_seconds",
			Help:      "Sale-window sweep duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Distribution metrics
		DistributionEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "events_total",
			Help:      "Total number of distribution events created",
		}),
		PayoutLinesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "payout_lines_total",
			Help:      "Total number of payout lines created",
		}),
		PayoutLinesSettled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "payout_lines_settled_total",
			Help:      "Total number of payout lines settled",
		}),
		PayoutLinesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "payout_lines_failed_total",
			Help:      "Total number of payout lines that failed settlement",
		}),
		PayoutLinesRetried: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "payout_lines_retried_total",
			Help:      "Total number of operator retries of failed payout lines",
		}),
		DistributionClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "distribution",
			Name:      "events_closed_total",
			Help:      "Total number of distribution events reaching a terminal status",
		}, []string{"status"}),

		// Settlement metrics
		SettlementCallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "callbacks_total",
			Help:      "Total number of settlement callbacks by kind and outcome",
		}, []string{"kind", "outcome"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTransition increments the transition counter for a target status.
func RecordTransition(to string) {
	DefaultMetrics.Transitions.WithLabelValues(to).Inc()
}

// RecordIssuanceIntent increments the issuance intent counter.
func RecordIssuanceIntent() {
	DefaultMetrics.IssuanceIntents.Inc()
}

// RecordAssetFrozen increments the frozen asset counter.
func RecordAssetFrozen() {
	DefaultMetrics.AssetsFrozen.Inc()
}

// RecordPrimaryPurchase records a successful primary purchase.
func RecordPrimaryPurchase(units int64) {
	DefaultMetrics.PrimaryPurchases.Inc()
	DefaultMetrics.PrimaryUnitsSold.Add(float64(units))
}

// RecordListingCreated increments the listings created counter.
func RecordListingCreated() {
	DefaultMetrics.ListingsCreated.Inc()
}

// RecordListingFilled increments the listing fill counter.
func RecordListingFilled() {
	DefaultMetrics.ListingsFilled.Inc()
}

// RecordListingCancelled increments the listing cancellation counter.
func RecordListingCancelled() {
	DefaultMetrics.ListingsCancelled.Inc()
}

// RecordTradingRejection records a rejected trading operation.
func RecordTradingRejection(reason string) {
	DefaultMetrics.TradingRejections.WithLabelValues(reason).Inc()
}

// RecordSweep records one sweep run.
func RecordSweep(status string, transitions int, durationSeconds float64) {
	DefaultMetrics.SweepRuns.WithLabelValues(status).Inc()
	DefaultMetrics.SweepTransitions.Add(float64(transitions))
	DefaultMetrics.SweepDuration.Observe(durationSeconds)
}

// RecordDistributionCreated records a new distribution event and its lines.
func RecordDistributionCreated(lines int) {
	DefaultMetrics.DistributionEvents.Inc()
	DefaultMetrics.PayoutLinesCreated.Add(float64(lines))
}

// RecordPayoutSettled increments the settled payout line counter.
func RecordPayoutSettled() {
	DefaultMetrics.PayoutLinesSettled.Inc()
}

// RecordPayoutFailed increments the failed payout line counter.
func RecordPayoutFailed() {
	DefaultMetrics.PayoutLinesFailed.Inc()
}

// RecordPayoutRetried increments the payout retry counter.
func RecordPayoutRetried() {
	DefaultMetrics.PayoutLinesRetried.Inc()
}

// RecordDistributionClosed records an event reaching a terminal status.
func RecordDistributionClosed(status string) {
	DefaultMetrics.DistributionClosed.WithLabelValues(status).Inc()
}

// RecordSettlementCallback records a settlement callback.
func RecordSettlementCallback(kind string, ok bool) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	DefaultMetrics.SettlementCallbacks.WithLabelValues(kind, outcome).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
