package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for WagerLedger.
type Metrics struct {
	// --- Proposal lifecycle ---
	ProposalsSubmitted *prometheus.CounterVec // labels: result
	ProposalsAccepted  *prometheus.CounterVec // labels: result
	ProposalsWithdrawn *prometheus.CounterVec // labels: mode (cancel|decline)
	CompensationRuns   *prometheus.CounterVec // labels: operation
	CompensationFailed *prometheus.CounterVec // labels: operation

	// --- Collateral ---
	CollateralReserved *prometheus.CounterVec // labels: material
	CollateralReleased *prometheus.CounterVec // labels: material

	// --- Settlement ---
	SettlementsResolved   *prometheus.CounterVec // labels: status
	SettlementDuplicates  prometheus.Counter
	SettlementTransferred *prometheus.CounterVec // labels: material
	SettleLRUSize         prometheus.Gauge
	SettleLRUEvictions    prometheus.Counter

	// --- Store ---
	CASConflicts *prometheus.CounterVec // labels: path_prefix

	// --- Reconciler ---
	ReconcilerSweeps      prometheus.Counter
	ReconcilerCorrections prometheus.Counter
	ReconcilerExcess      *prometheus.GaugeVec // labels: material
	ReconcilerDuration    prometheus.Histogram

	// --- API ---
	RPCRequests  *prometheus.CounterVec // labels: endpoint, result
	RPCDuration  *prometheus.HistogramVec
	HTTPRequests *prometheus.CounterVec // labels: endpoint, code

	// --- Ingestion ---
	ResultsReceived prometheus.Counter
	ResultsRejected *prometheus.CounterVec // labels: reason
	EventsPublished *prometheus.CounterVec // labels: event
	PublishDrops    prometheus.Counter
}

// NewMetrics registers every collector on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ProposalsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_proposals_submitted_total",
			Help: "Proposal submissions by result.",
		}, []string{"result"}),
		ProposalsAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_proposals_accepted_total",
			Help: "Proposal acceptances by result.",
		}, []string{"result"}),
		ProposalsWithdrawn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_proposals_withdrawn_total",
			Help: "Proposal withdrawals by mode (cancel or decline).",
		}, []string{"mode"}),
		CompensationRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_compensations_total",
			Help: "Compensations executed after a failed record phase.",
		}, []string{"operation"}),
		CompensationFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_compensation_failures_total",
			Help: "Compensations that themselves failed, leaving frozen drift.",
		}, []string{"operation"}),

		CollateralReserved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_collateral_reserved_units_total",
			Help: "Material units frozen as collateral.",
		}, []string{"material"}),
		CollateralReleased: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_collateral_released_units_total",
			Help: "Material units released from collateral.",
		}, []string{"material"}),

		SettlementsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_settlements_total",
			Help: "Settlement outcomes by status.",
		}, []string{"status"}),
		SettlementDuplicates: f.NewCounter(prometheus.CounterOpts{
			Name: "wager_settlement_duplicates_total",
			Help: "Match results dropped by the once-only settlement gate.",
		}),
		SettlementTransferred: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_settlement_transferred_units_total",
			Help: "Material units moved loser to winner at settlement.",
		}, []string{"material"}),
		SettleLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "wager_settlement_lru_size",
			Help: "Entries in the in-memory settlement dedup cache.",
		}),
		SettleLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "wager_settlement_lru_evictions_total",
			Help: "Evictions from the in-memory settlement dedup cache.",
		}),

		CASConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_store_cas_conflicts_total",
			Help: "CAS write conflicts by path prefix.",
		}, []string{"path_prefix"}),

		ReconcilerSweeps: f.NewCounter(prometheus.CounterOpts{
			Name: "wager_reconciler_sweeps_total",
			Help: "Completed reconciliation sweeps.",
		}),
		ReconcilerCorrections: f.NewCounter(prometheus.CounterOpts{
			Name: "wager_reconciler_corrections_total",
			Help: "Collateral accounts corrected by the reconciler.",
		}),
		ReconcilerExcess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wager_reconciler_excess_frozen_units",
			Help: "Frozen units above what live wagers justify, last sweep.",
		}, []string{"material"}),
		ReconcilerDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "wager_reconciler_sweep_duration_seconds",
			Help:    "Reconciliation sweep duration.",
			Buckets: prometheus.DefBuckets,
		}),

		RPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_rpc_requests_total",
			Help: "NATS request-reply calls by endpoint and result.",
		}, []string{"endpoint", "result"}),
		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wager_rpc_duration_seconds",
			Help:    "NATS request-reply handler duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_http_requests_total",
			Help: "HTTP API requests by endpoint and status code.",
		}, []string{"endpoint", "code"}),

		ResultsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "wager_match_results_received_total",
			Help: "Match result messages consumed from the results stream.",
		}),
		ResultsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_match_results_rejected_total",
			Help: "Match result messages rejected before settlement.",
		}, []string{"reason"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_events_published_total",
			Help: "Outbound wager events published by kind.",
		}, []string{"event"}),
		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "wager_events_publish_drops_total",
			Help: "Outbound events dropped because the publish buffer was full.",
		}),
	}
}

// NewTestMetrics returns a Metrics wired to a throwaway registry.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
