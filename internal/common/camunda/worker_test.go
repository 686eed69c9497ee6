package camunda

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "case-portal/internal/common/errors"
	"case-portal/internal/common/metrics"
	"case-portal/internal/common/observability"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordJob(t *testing.T) {
	ctx := context.Background()
	const taskType = "record-job-test"

	completed := testutil.ToFloat64(metrics.WorkerJobsCompleted.WithLabelValues(taskType))
	RecordJob(ctx, nil, taskType, time.Now(), nil)
	assert.Equal(t, completed+1, testutil.ToFloat64(metrics.WorkerJobsCompleted.WithLabelValues(taskType)))

	invalid := testutil.ToFloat64(metrics.WorkerJobsFailed.WithLabelValues(taskType, string(apperrors.ErrCodePayloadInvalid)))
	RecordJob(ctx, observability.Noop(), taskType, time.Now(), apperrors.NewPayloadInvalidError("status is required"))
	assert.Equal(t, invalid+1, testutil.ToFloat64(metrics.WorkerJobsFailed.WithLabelValues(taskType, string(apperrors.ErrCodePayloadInvalid))))

	internal := testutil.ToFloat64(metrics.WorkerJobsFailed.WithLabelValues(taskType, string(apperrors.ErrCodeInternal)))
	RecordJob(ctx, nil, taskType, time.Now(), errors.New("boom"))
	assert.Equal(t, internal+1, testutil.ToFloat64(metrics.WorkerJobsFailed.WithLabelValues(taskType, string(apperrors.ErrCodeInternal))))
}
