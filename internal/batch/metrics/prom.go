package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal tracks terminal job outcomes per provider
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicebatch_jobs_total",
			Help: "Total number of jobs that reached a terminal state",
		},
		[]string{"provider", "status"},
	)

	// ProviderCallsTotal tracks synthesis calls that reached a provider
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicebatch_provider_calls_total",
			Help: "Total number of provider synthesis calls",
		},
		[]string{"provider"},
	)

	// ProviderErrorsTotal tracks classified provider failures
	ProviderErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicebatch_provider_errors_total",
			Help: "Total number of failed provider calls by error kind",
		},
		[]string{"provider", "error_kind"},
	)

	// OperationLatency tracks every recorded metric sample
	OperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voicebatch_operation_latency_seconds",
			Help:    "Operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	// CacheLookupsTotal tracks response cache lookups
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicebatch_cache_lookups_total",
			Help: "Total number of response cache lookups",
		},
		[]string{"result"},
	)

	// BreakerState is 0 closed, 1 open, 2 half-open
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "voicebatch_breaker_state",
			Help: "Circuit breaker state per provider",
		},
		[]string{"provider"},
	)

	// InFlightCalls tracks provider calls currently outstanding
	InFlightCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voicebatch_inflight_calls",
			Help: "Number of provider calls in flight",
		},
	)
)

// DBConnectionPoolUsage tracks the ledger connection pool usage percentage
var DBConnectionPoolUsage = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "voicebatch_db_connection_pool_usage_percent",
		Help: "Ledger database connection pool usage in percent",
	},
)
