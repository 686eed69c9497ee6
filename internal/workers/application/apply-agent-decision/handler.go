// internal/workers/application/apply-agent-decision/handler.go
package applyagentdecision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"case-portal/internal/common/camunda"
	apperrors "case-portal/internal/common/errors"
	"case-portal/internal/common/logger"
	"case-portal/internal/common/observability"
	"case-portal/internal/common/validation"
	"case-portal/internal/lifecycle"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "apply-agent-decision"
)

// DecisionApplier is satisfied by *lifecycle.Engine.
type DecisionApplier interface {
	ApplyAgentDecision(ctx context.Context, appID string, target lifecycle.Status, programName string) error
}

type Handler struct {
	config       *Config
	applier      DecisionApplier
	schema       *validation.Schema
	logger       logger.Logger
	errorHandler *apperrors.ErrorHandler
	obs          *observability.Observability
	now          func() time.Time
}

func NewHandler(cfg *Config, applier DecisionApplier, schema *validation.Schema, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       cfg,
		applier:      applier,
		schema:       schema,
		logger:       log,
		errorHandler: apperrors.NewErrorHandler(log),
		now:          time.Now,
	}
}

// WithObservability records job outcomes on obs as well as the worker metrics.
func (h *Handler) WithObservability(obs *observability.Observability) *Handler {
	h.obs = obs
	return h
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput(job.Variables)
	if err != nil {
		camunda.RecordJob(ctx, h.obs, TaskType, start, err)
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		camunda.RecordJob(ctx, h.obs, TaskType, start, err)
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
	camunda.RecordJob(ctx, h.obs, TaskType, start, nil)
}

// parseInput checks the raw variables against the activity schema before
// decoding them.
func (h *Handler) parseInput(variables string) (*Input, error) {
	if h.schema != nil {
		if result := h.schema.ValidateInput(variables); !result.Valid {
			return nil, apperrors.NewPayloadInvalidError(result.Error())
		}
	}
	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, apperrors.NewPayloadInvalidError(fmt.Sprintf("parse input: %v", err))
	}
	return &input, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input.ApplicationID == "" || input.Status == "" {
		return nil, apperrors.NewPayloadInvalidError("applicationId and status are required")
	}

	target := lifecycle.Status(input.Status)
	if err := h.applier.ApplyAgentDecision(ctx, input.ApplicationID, target, input.ProgramName); err != nil {
		return nil, err
	}

	h.logger.Info("agent decision applied", map[string]interface{}{
		"applicationId": input.ApplicationID,
		"status":        input.Status,
		"agentId":       input.AgentID,
	})
	return &Output{
		ApplicationID: input.ApplicationID,
		Status:        input.Status,
		AppliedAt:     h.now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
	}
}
