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

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	WorkflowOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_workflow_operations_total",
			Help: "Workflow operations by component, operation and outcome",
		},
		[]string{"component", "operation", "outcome"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_application_status_transitions_total",
			Help: "Application status transitions applied",
		},
		[]string{"from", "to"},
	)

	PartialFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_partial_failures_total",
			Help: "Multi-step flows that failed after an earlier step committed",
		},
		[]string{"flow", "compensated"},
	)

	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_store_operations_total",
			Help: "Record store operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	BlobUploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_blob_upload_bytes_total",
			Help: "Bytes uploaded to blob storage",
		},
	)

	ActiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portal_active_subscriptions",
			Help: "Live record subscriptions held open by views",
		},
		[]string{"feed"},
	)
)

// Outcome maps an operation error onto the outcome label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordOperation counts one workflow operation.
func RecordOperation(component, operation string, err error) {
	WorkflowOperations.WithLabelValues(component, operation, Outcome(err)).Inc()
}
