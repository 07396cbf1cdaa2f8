// Package telemetry holds the Prometheus counters/histograms this core
// increments directly: idempotency replay/processing/completed/failed,
// bulkhead rejects, and breaker trips. Scraping and exporting them is an
// external collaborator's job.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

var IdempotencyReplayedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "scancore",
		Subsystem: "idempotency",
		Name:      "replayed_total",
		Help:      "Total number of requests served from a cached, completed idempotency entry.",
	},
)

var IdempotencyProcessingTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "scancore",
		Subsystem: "idempotency",
		Name:      "processing_total",
		Help:      "Total number of idempotency keys that found a still-processing entry.",
	},
)

var IdempotencyCompletedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "scancore",
		Subsystem: "idempotency",
		Name:      "completed_total",
		Help:      "Total number of idempotency entries that reached completed.",
	},
)

var IdempotencyFailedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "scancore",
		Subsystem: "idempotency",
		Name:      "failed_total",
		Help:      "Total number of idempotency entries that reached failed.",
	},
)

var BulkheadRejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scancore",
		Subsystem: "bulkhead",
		Name:      "rejected_total",
		Help:      "Total number of calls rejected by a bulkhead, by category.",
	},
	[]string{"category"},
)

var BreakerTrippedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scancore",
		Subsystem: "breaker",
		Name:      "tripped_total",
		Help:      "Total number of circuit breaker trips, by dependency name.",
	},
	[]string{"dependency"},
)

var ScanDecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scancore",
		Subsystem: "scan",
		Name:      "decisions_total",
		Help:      "Total number of scan decisions, by result and reason.",
	},
	[]string{"result", "reason"},
)

var MintRecoveryPointTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scancore",
		Subsystem: "mint",
		Name:      "recovery_point_total",
		Help:      "Total number of mint jobs that reached a given recovery point.",
	},
	[]string{"point"},
)

var DLQItemsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scancore",
		Subsystem: "dlq",
		Name:      "items_total",
		Help:      "Total number of DLQ items enqueued, by category.",
	},
	[]string{"category"},
)

var AnomalyFindingsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scancore",
		Subsystem: "anomaly",
		Name:      "findings_total",
		Help:      "Total number of persisted anomaly findings, by detector.",
	},
	[]string{"detector"},
)

// All returns every scancore metric for registration against a
// prometheus.Registerer at process start.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		IdempotencyReplayedTotal,
		IdempotencyProcessingTotal,
		IdempotencyCompletedTotal,
		IdempotencyFailedTotal,
		BulkheadRejectedTotal,
		BreakerTrippedTotal,
		ScanDecisionsTotal,
		MintRecoveryPointTotal,
		DLQItemsTotal,
		AnomalyFindingsTotal,
	}
}
