// Package metrics registers the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdvanceCycles counts completed advance cycles by outcome.
	AdvanceCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "runtime",
		Name:      "advance_cycles_total",
		Help:      "Completed advance cycles by outcome.",
	}, []string{"outcome"})

	// NodeExecutions counts node executions by node type and status.
	NodeExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "runtime",
		Name:      "node_executions_total",
		Help:      "Node executions by type and status.",
	}, []string{"node_type", "status"})

	// AdvanceDuration observes wall time per advance cycle.
	AdvanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "loom",
		Subsystem: "runtime",
		Name:      "advance_duration_seconds",
		Help:      "Advance cycle duration.",
		Buckets:   prometheus.DefBuckets,
	})

	// ConcurrencyConflicts counts lost optimistic writes.
	ConcurrencyConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "runtime",
		Name:      "concurrency_conflicts_total",
		Help:      "Advance cycles retried after losing the optimistic version check.",
	})

	// OutboxStaged counts outbox messages staged into units of work.
	OutboxStaged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "outbox",
		Name:      "staged_total",
		Help:      "Outbox messages staged.",
	})

	// OutboxDispatched counts successfully delivered outbox messages.
	OutboxDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "outbox",
		Name:      "dispatched_total",
		Help:      "Outbox messages delivered to the broker.",
	})

	// OutboxDispatchFailures counts failed delivery attempts.
	OutboxDispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "outbox",
		Name:      "dispatch_failures_total",
		Help:      "Outbox delivery attempts that failed.",
	})

	// TimersFired counts due timer subscriptions re-entered by the scheduler.
	TimersFired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "scheduler",
		Name:      "timers_fired_total",
		Help:      "Due timer subscriptions that re-entered the advance cycle.",
	})
)
