package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g., beacon_...).
const namespace = "beacon"

var (
	// -------------------------------------------------------------------------
	// ENGINE
	// -------------------------------------------------------------------------

	// MessageEvaluations counts message eligibility decisions.
	// Metric: beacon_engine_message_evaluations_total
	MessageEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "message_evaluations_total",
		Help:      "Total message eligibility evaluations",
	}, []string{"result"}) // eligible, ineligible

	// TriggerEvaluations counts single trigger checks.
	// Metric: beacon_engine_trigger_evaluations_total
	TriggerEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "trigger_evaluations_total",
		Help:      "Total trigger evaluations by operator and kind",
	}, []string{"operator", "kind"}) // kind: static, dynamic

	// -------------------------------------------------------------------------
	// SCHEDULER
	// -------------------------------------------------------------------------

	// ScheduledTriggers is the number of outstanding dynamic trigger timers.
	ScheduledTriggers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "pending_entries",
		Help:      "Current number of scheduled dynamic trigger timers",
	})

	// TimerFires counts timer callbacks by outcome.
	// A stale fire is a callback that lost the race against a cancellation.
	TimerFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "timer_fires_total",
		Help:      "Total dynamic trigger timer callbacks",
	}, []string{"outcome"}) // fired, stale

	// ScheduleCancellations counts cancelled entries by reason.
	ScheduleCancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "cancellations_total",
		Help:      "Total cancelled dynamic trigger timers",
	}, []string{"reason"}) // superseded, property, message, trigger, teardown

	// -------------------------------------------------------------------------
	// CONTROLLER
	// -------------------------------------------------------------------------

	ActiveMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "controller",
		Name:      "active_messages",
		Help:      "Current number of messages awaiting eligibility",
	})

	PresentedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "controller",
		Name:      "presented_messages_total",
		Help:      "Total messages handed to the presenter",
	})

	// DefinitionCacheHits/Misses track reuse of compiled message definitions
	// across message-set refreshes.
	DefinitionCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "definition_hits_total",
		Help:      "Total message definitions served from the compiled cache",
	})

	DefinitionCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "definition_misses_total",
		Help:      "Total message definitions compiled from scratch",
	})

	// -------------------------------------------------------------------------
	// HOST API (REST)
	// -------------------------------------------------------------------------

	// HostAPIReqDuration measures the latency of host API requests.
	// Metric: beacon_host_api_http_handling_seconds
	HostAPIReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "host_api",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle host API requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// HostAPIReqTotal counts host API requests.
	// Metric: beacon_host_api_http_requests_total
	HostAPIReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "host_api",
		Name:      "http_requests_total",
		Help:      "Total host API requests",
	}, []string{"method", "route", "code"})

	// -------------------------------------------------------------------------
	// SYNCER (Persistence)
	// -------------------------------------------------------------------------

	// SyncerFlushes counts snapshot writes to Redis.
	SyncerFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "flushes_total",
		Help:      "Total trigger value snapshots written to Redis",
	}, []string{"status"}) // success, fail

	SyncerFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "flush_duration_seconds",
		Help:      "Time taken to write a trigger value snapshot",
		Buckets:   prometheus.DefBuckets,
	})
)
