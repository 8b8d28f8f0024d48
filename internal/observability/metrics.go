package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the vault service.
type Metrics struct {
	// --- Engine operations ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec
	EventSeq    prometheus.Gauge

	// --- Pool state ---
	PoolUtilization  *prometheus.GaugeVec
	PoolAvailable    *prometheus.GaugeVec
	PoolTotalDebt    *prometheus.GaugeVec
	PoolBadDebt      *prometheus.GaugeVec
	PoolTierBacking  *prometheus.GaugeVec
	InterestAccrued  *prometheus.CounterVec
	AcceptingOrders  prometheus.Gauge
	OpenPositions    prometheus.Gauge

	// --- Liquidation ---
	LiquidationsExecuted *prometheus.CounterVec
	LiquidationShortfall *prometheus.CounterVec
	LiquidationPenalty   *prometheus.CounterVec

	// --- Swaps ---
	SwapsExecuted *prometheus.CounterVec
	SwapFailures  *prometheus.CounterVec

	// --- Oracle ---
	OracleErrors *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge
	PublishDrops         prometheus.Counter

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ops_applied_total",
			Help: "Operations successfully committed by the engine",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ops_rejected_total",
			Help: "Operations rejected before commit",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_op_duration_seconds",
			Help:    "Time to check and commit one operation",
			Buckets: opBuckets,
		}, []string{"op"}),

		EventSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_event_sequence",
			Help: "Current event sequence number",
		}),

		PoolUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_pool_utilization",
			Help: "Debt over base deposits, scaled to 1.0",
		}, []string{"token"}),

		PoolAvailable: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_pool_available_liquidity",
			Help: "Liquidity available for borrows and withdrawals",
		}, []string{"token"}),

		PoolTotalDebt: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_pool_total_debt",
			Help: "Aggregate outstanding debt",
		}, []string{"token"}),

		PoolBadDebt: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_pool_bad_debt",
			Help: "Recognized unrecoverable debt",
		}, []string{"token"}),

		PoolTierBacking: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_pool_tier_backing",
			Help: "Effective backing per tier, net of bad debt",
		}, []string{"token", "tier"}),

		InterestAccrued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_interest_accrued_total",
			Help: "Interest committed to the tiers",
		}, []string{"token"}),

		AcceptingOrders: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_accepting_new_orders",
			Help: "1 when new positions are accepted, 0 after the circuit breaker trips",
		}),

		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_open_positions",
			Help: "Number of open positions",
		}),

		LiquidationsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_liquidations_executed_total",
			Help: "Liquidations completed",
		}, []string{"debt_token", "position_token"}),

		LiquidationShortfall: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_liquidation_shortfall_total",
			Help: "Closes and liquidations that recognized bad debt",
		}, []string{"debt_token"}),

		LiquidationPenalty: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_liquidation_penalty_total",
			Help: "Liquidation penalties routed to the fee receiver",
		}, []string{"debt_token"}),

		SwapsExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_swaps_executed_total",
			Help: "Router swaps that filled",
		}, []string{"token_in", "token_out"}),

		SwapFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_swap_failures_total",
			Help: "Router swaps that failed",
		}, []string{"token_in", "token_out", "reason"}),

		OracleErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_oracle_errors_total",
			Help: "Oracle reads rejected (missing, stale, invalid)",
		}, []string{"token"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_http_requests_total",
			Help: "API requests",
		}, []string{"endpoint", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_http_request_duration_seconds",
			Help:    "API request latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
