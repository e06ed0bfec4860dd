package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace prefixes every metric (beacon_...).
const namespace = "beacon"

var (
	// -------------------------------------------------------------------------
	// EVALUATION
	// -------------------------------------------------------------------------

	// EvaluationsTotal counts every flag evaluation by outcome.
	// Metric: beacon_evaluation_total
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "evaluation",
		Name:      "total",
		Help:      "Total flag evaluations",
	}, []string{"flag", "result", "strategy", "environment"})

	// -------------------------------------------------------------------------
	// CACHE REFRESH
	// -------------------------------------------------------------------------

	// RefreshTotal counts refresh outcomes per cache.
	// Outcome is one of: loaded, hydrated, error.
	// Metric: beacon_cache_refresh_total
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "refresh_total",
		Help:      "Cache refresh outcomes",
	}, []string{"cache", "outcome"})

	// RefreshDeduplicated counts callers that shared another caller's
	// in-flight refresh instead of starting their own.
	// Metric: beacon_cache_refresh_deduplicated_total
	RefreshDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "refresh_deduplicated_total",
		Help:      "Refresh calls collapsed into an in-flight refresh",
	}, []string{"cache"})

	// RefreshDuration measures durable-store load latency per cache.
	// Metric: beacon_cache_refresh_duration_seconds
	RefreshDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "refresh_duration_seconds",
		Help:      "Time taken to refresh a cache from the durable store",
		Buckets:   prometheus.DefBuckets,
	}, []string{"cache"})

	// -------------------------------------------------------------------------
	// GOVERNANCE
	// -------------------------------------------------------------------------

	// SyncRuns counts manifest sync invocations by result.
	// Metric: beacon_governance_sync_runs_total
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "governance",
		Name:      "sync_runs_total",
		Help:      "Manifest sync invocations",
	}, []string{"result", "dry_run"})

	// SyncChanges counts individual changes applied by manifest syncs.
	// Metric: beacon_governance_sync_changes_total
	SyncChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "governance",
		Name:      "sync_changes_total",
		Help:      "Changes detected or applied during manifest sync",
	}, []string{"type"})
)
