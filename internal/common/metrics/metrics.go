// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	Reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_reconciliations_total",
			Help: "Reconcile calls by outcome (unchanged, changed, conflict, error, lock_timeout)",
		},
		[]string{"outcome"},
	)

	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_stage_transitions_total",
			Help: "Committed stage transitions by target stage",
		},
		[]string{"to_stage"},
	)

	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_dispatches_total",
			Help: "Notification dispatch attempts by template and outcome",
		},
		[]string{"template", "outcome"},
	)

	IngestionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_ingestion_events_total",
			Help: "Lifecycle events received by the ingestion queue (queued, coalesced, dropped)",
		},
		[]string{"result"},
	)

	IngestionQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lifecycle_ingestion_queue_depth",
			Help: "Applications waiting for reconciliation",
		},
	)

	FieldMerges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_field_merges_total",
			Help: "Field carriage writes by outcome",
		},
		[]string{"outcome"},
	)
)
