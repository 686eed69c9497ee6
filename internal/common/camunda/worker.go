// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"time"

	apperrors "case-portal/internal/common/errors"
	"case-portal/internal/common/logger"
	"case-portal/internal/common/metrics"
	"case-portal/internal/common/observability"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// JobHandler completes, fails or throws on the job itself.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

type WorkerOptions struct {
	MaxJobsActive int
	Concurrency   int
}

type CamundaWorker struct {
	worker   worker.JobWorker
	logger   logger.Logger
	taskType string
}

func NewWorker(client zbc.Client, taskType string, handler JobHandler, opts WorkerOptions, log logger.Logger) *CamundaWorker {
	if opts.MaxJobsActive <= 0 {
		opts.MaxJobsActive = 5
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	log = log.WithFields(map[string]interface{}{"taskType": taskType})

	jobWorker := client.NewJobWorker().
		JobType(taskType).
		Handler(func(c worker.JobClient, job entities.Job) {
			metrics.WorkerJobsActive.WithLabelValues(taskType).Inc()
			defer metrics.WorkerJobsActive.WithLabelValues(taskType).Dec()
			handler.Handle(c, job)
		}).
		MaxJobsActive(opts.MaxJobsActive).
		Concurrency(opts.Concurrency).
		Open()

	log.Info("worker started", map[string]interface{}{
		"maxJobsActive": opts.MaxJobsActive,
		"concurrency":   opts.Concurrency,
	})
	return &CamundaWorker{
		worker:   jobWorker,
		logger:   log,
		taskType: taskType,
	}
}

func (w *CamundaWorker) TaskType() string {
	return w.taskType
}

// Stop closes the job stream and waits for in-flight handlers or ctx.
func (w *CamundaWorker) Stop(ctx context.Context) {
	w.logger.Info("stopping worker", nil)
	done := make(chan struct{})
	go func() {
		w.worker.Close()
		w.worker.AwaitClose()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("worker stop timed out", nil)
	}
}

// RecordJob records the outcome of one job on the Prometheus worker metrics
// and, when obs is set, the OpenTelemetry job instruments.
func RecordJob(ctx context.Context, obs *observability.Observability, taskType string, start time.Time, err error) {
	elapsed := time.Since(start)
	status := "completed"
	if err != nil {
		status = "failed"
		code := apperrors.ErrCodeInternal
		if stdErr, ok := apperrors.AsStandard(err); ok {
			code = stdErr.Code
		}
		metrics.WorkerJobsFailed.WithLabelValues(taskType, string(code)).Inc()
	} else {
		metrics.WorkerJobsCompleted.WithLabelValues(taskType).Inc()
	}
	metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())

	if obs != nil {
		obs.RecordJobProcessed(ctx, status)
		obs.RecordJobDuration(ctx, elapsed, status)
	}
}
