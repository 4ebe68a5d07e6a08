package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement service.
type Metrics struct {
	// --- Engine ---
	OperationsApplied  *prometheus.CounterVec
	OperationsRejected *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	EntriesWritten     *prometheus.CounterVec
	AmountMoved        *prometheus.CounterVec
	PlatformFees       prometheus.Counter
	LockWaitFailures   *prometheus.CounterVec
	PlatformProvisions prometheus.Counter
	ReferenceCacheHits prometheus.Counter

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	PublishDrops       prometheus.Counter
	EventsPublished    *prometheus.CounterVec
	PublishErrors      prometheus.Counter

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec
	IngestDuration *prometheus.HistogramVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
	IntegrityRuns *prometheus.CounterVec

	// --- RPC ---
	RPCRequests *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	txBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025,
		0.05, 0.1, 0.25, 0.5, 1.0, 2.5,
	}

	return &Metrics{
		// Engine
		OperationsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_engine_operations_applied_total",
			Help: "Settlement operations committed",
		}, []string{"kind"}),

		OperationsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_engine_operations_rejected_total",
			Help: "Settlement operations rolled back, by error code",
		}, []string{"kind", "code"}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wager_engine_operation_duration_seconds",
			Help:    "Wall time of one settlement transaction",
			Buckets: txBuckets,
		}, []string{"kind"}),

		EntriesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_engine_ledger_entries_total",
			Help: "Ledger entries appended",
		}, []string{"account_type"}),

		AmountMoved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_engine_amount_minor_units_total",
			Help: "Minor units moved by committed operations",
		}, []string{"kind"}),

		PlatformFees: factory.NewCounter(prometheus.CounterOpts{
			Name: "wager_engine_platform_fees_minor_units_total",
			Help: "Platform fees collected on release",
		}),

		LockWaitFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_engine_transient_failures_total",
			Help: "Operations failed by lock-wait timeout, deadlock or busy store",
		}, []string{"kind"}),

		PlatformProvisions: factory.NewCounter(prometheus.CounterOpts{
			Name: "wager_engine_platform_account_provisions_total",
			Help: "Times the platform account was created on first release",
		}),

		ReferenceCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "wager_engine_reference_cache_hits_total",
			Help: "Deposits rejected by the in-process external reference cache",
		}),

		// Channel & Backpressure
		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wager_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wager_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wager_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "wager_publish_drops_total",
			Help: "Settlement events dropped due to full publish channel",
		}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_events_published_total",
			Help: "Settlement events published to NATS",
		}, []string{"kind"}),

		PublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "wager_publish_errors_total",
			Help: "Settlement event publish failures",
		}),

		// Ingestion
		IngestMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_ingest_messages_total",
			Help: "Inbound messages by subject family and outcome",
		}, []string{"source", "outcome"}),

		IngestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wager_ingest_apply_duration_seconds",
			Help:    "Receive to engine commit for inbound messages",
			Buckets: txBuckets,
		}, []string{"source"}),

		// Query API
		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wager_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),

		IntegrityRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_integrity_checks_total",
			Help: "Journal integrity checks by result",
		}, []string{"result"}),

		// RPC
		RPCRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wager_rpc_requests_total",
			Help: "Settlement API calls by method and gRPC code",
		}, []string{"transport", "method", "code"}),

		RPCDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wager_rpc_duration_seconds",
			Help:    "Settlement API latency",
			Buckets: txBuckets,
		}, []string{"transport", "method"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
