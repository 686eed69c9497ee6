// internal/workers/application/apply-agent-decision/handler_test.go
package applyagentdecision

import (
	"context"
	"testing"
	"time"

	apperrors "case-portal/internal/common/errors"
	"case-portal/internal/common/logger"
	"case-portal/internal/common/validation"
	"case-portal/internal/lifecycle"
	"case-portal/internal/models"
	"case-portal/internal/store"
	"case-portal/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingApplier struct {
	appID   string
	target  lifecycle.Status
	program string
	err     error
}

func (r *recordingApplier) ApplyAgentDecision(_ context.Context, appID string, target lifecycle.Status, programName string) error {
	r.appID, r.target, r.program = appID, target, programName
	return r.err
}

func loadSchema(t *testing.T) *validation.Schema {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)
	activity, err := reg.Find(TaskType)
	require.NoError(t, err)
	schema, err := validation.Compile(activity.InputSchema)
	require.NoError(t, err)
	return schema
}

func newTestHandler(t *testing.T, applier DecisionApplier) *Handler {
	h := NewHandler(&Config{Timeout: time.Second}, applier, loadSchema(t), logger.NewTestLogger(t))
	h.now = func() time.Time { return time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC) }
	return h
}

func TestHandler_ParseInput(t *testing.T) {
	h := newTestHandler(t, &recordingApplier{})

	tests := []struct {
		name      string
		variables string
		wantErr   bool
	}{
		{"valid approval", `{"applicationId":"000001_1","status":"approved","programName":"Housing"}`, false},
		{"valid rejection", `{"applicationId":"000001_2","status":"rejected"}`, false},
		{"missing status", `{"applicationId":"000001_1"}`, true},
		{"client driven status", `{"applicationId":"000001_1","status":"service_received"}`, true},
		{"malformed id", `{"applicationId":"abc","status":"approved"}`, true},
		{"not json", `{`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, err := h.parseInput(tt.variables)
			if tt.wantErr {
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePayloadInvalid), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, input.ApplicationID)
		})
	}
}

func TestHandler_Execute(t *testing.T) {
	applier := &recordingApplier{}
	h := newTestHandler(t, applier)

	out, err := h.Execute(context.Background(), &Input{ApplicationID: "000001_1", Status: "approved", ProgramName: "Housing"})
	require.NoError(t, err)
	assert.Equal(t, "000001_1", applier.appID)
	assert.Equal(t, lifecycle.StatusApproved, applier.target)
	assert.Equal(t, "Housing", applier.program)
	assert.Equal(t, "2025-05-02T10:00:00Z", out.AppliedAt)

	applier.err = apperrors.NewInvalidTransitionError("service_received", "approved")
	_, err = h.Execute(context.Background(), &Input{ApplicationID: "000001_1", Status: "approved"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))

	_, err = h.Execute(context.Background(), &Input{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePayloadInvalid))
}

func TestHandler_ExecuteAgainstEngine(t *testing.T) {
	mem := store.NewMemoryStore()
	engine := lifecycle.NewEngine(mem, store.NewMemoryBlobStore("http://blobs.local"), nil, nil, logger.NewNoOpLogger(), lifecycle.Options{})
	ctx := context.Background()

	appID, err := engine.Submit(ctx, "000001")
	require.NoError(t, err)

	h := newTestHandler(t, engine)
	input, err := h.parseInput(`{"applicationId":"` + appID + `","status":"approved","programName":"Housing"}`)
	require.NoError(t, err)
	_, err = h.Execute(ctx, input)
	require.NoError(t, err)

	doc, err := mem.Get(ctx, models.CollectionApplications, appID)
	require.NoError(t, err)
	var app models.Application
	require.NoError(t, doc.Decode(&app))
	assert.Equal(t, "approved", app.AutoFilledFormData.Status)
	assert.Equal(t, "Housing", app.AutoFilledFormData.FinalProgramName)

	// approved cannot go back to submitted-era statuses
	_, err = h.Execute(ctx, &Input{ApplicationID: appID, Status: "request_docs"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))
}
