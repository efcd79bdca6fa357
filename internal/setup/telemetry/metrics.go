package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors shared by the bot subsystems. They are served from
// the admin HTTP surface on /metrics.
var (
	// SyncDuration tracks how long a single member sync takes.
	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mellow",
		Subsystem: "sync",
		Name:      "duration_seconds",
		Help:      "Duration of member syncs",
		Buckets:   prometheus.DefBuckets,
	})

	// SyncOutcomes counts sync results by outcome.
	SyncOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mellow",
		Subsystem: "sync",
		Name:      "outcomes_total",
		Help:      "Member sync results by outcome",
	}, []string{"outcome"})

	// GatewayEvents counts dispatched gateway events by kind.
	GatewayEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mellow",
		Subsystem: "gateway",
		Name:      "events_total",
		Help:      "Gateway events handled by kind",
	}, []string{"event"})

	// DocumentRuns counts visual scripting document runs by event kind.
	DocumentRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mellow",
		Subsystem: "visual",
		Name:      "document_runs_total",
		Help:      "Visual scripting document executions by event kind",
	}, []string{"event"})

	// CacheLoads counts cache misses that triggered a load, by cache name.
	CacheLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mellow",
		Subsystem: "cache",
		Name:      "loads_total",
		Help:      "Cache loads by cache name",
	}, []string{"cache"})

	// ExternalRequests tracks identity provider calls by provider and status.
	ExternalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mellow",
		Subsystem: "external",
		Name:      "requests_total",
		Help:      "Identity provider requests by provider and status",
	}, []string{"provider", "status"})

	// RoleChanges counts role mutations applied by syncs.
	RoleChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mellow",
		Subsystem: "sync",
		Name:      "role_changes_total",
		Help:      "Role changes applied by member syncs",
	}, []string{"kind"})

	// ElementFailures counts visual scripting elements that failed.
	ElementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mellow",
		Subsystem: "visual",
		Name:      "element_failures_total",
		Help:      "Visual scripting element failures by element kind",
	}, []string{"element"})

	// ServerLogBatches counts server log messages posted, by result.
	ServerLogBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mellow",
		Subsystem: "serverlog",
		Name:      "batches_total",
		Help:      "Server log batches posted by result",
	}, []string{"result"})
)
