// internal/workers/communication/send-status-notification/handler.go
package sendstatusnotification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"case-portal/internal/catalog"
	"case-portal/internal/common/camunda"
	apperrors "case-portal/internal/common/errors"
	"case-portal/internal/common/logger"
	"case-portal/internal/common/observability"
	"case-portal/internal/common/validation"
	"case-portal/internal/lifecycle"
	"case-portal/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
)

const (
	TaskType = "send-status-notification"

	defaultTemplate = "default"
)

type ApplicationLoader interface {
	Load(ctx context.Context, appID string) (*lifecycle.Detail, error)
}

type ClientDirectory interface {
	ByClientID(ctx context.Context, clientID string) (*models.Client, error)
}

// EmailSender is satisfied by *aws.SESClient.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
}

// SMSSender is satisfied by *aws.SNSClient.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) (string, error)
}

type Handler struct {
	config       *Config
	applications ApplicationLoader
	clients      ClientDirectory
	email        EmailSender
	sms          SMSSender
	schema       *validation.Schema
	logger       logger.Logger
	errorHandler *apperrors.ErrorHandler
	obs          *observability.Observability
	templates    map[string]models.NotificationTemplate
	now          func() time.Time
}

func NewHandler(cfg *Config, applications ApplicationLoader, clients ClientDirectory, email EmailSender, sms SMSSender, schema *validation.Schema, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       cfg,
		applications: applications,
		clients:      clients,
		email:        email,
		sms:          sms,
		schema:       schema,
		logger:       log,
		errorHandler: apperrors.NewErrorHandler(log),
		templates:    loadTemplates(),
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

// Execute tells the client behind the application about its new status. A
// channel failure is only an error when nothing was delivered.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	detail, err := h.applications.Load(ctx, input.ApplicationID)
	if err != nil {
		return nil, err
	}
	client, err := h.clients.ByClientID(ctx, detail.Application.AutoFilledFormData.ClientID)
	if err != nil {
		return nil, err
	}

	status := lifecycle.Status(input.Status)
	if status == "" {
		status = detail.Status
	}
	subject, body := h.render(status, map[string]interface{}{
		"applicationId": input.ApplicationID,
		"fullName":      client.FullName,
		"statusMessage": catalog.StatusMessage(status),
		"statusLabel":   catalog.DisplayStatus(status, nil, nil),
	})

	notificationID := uuid.New().String()
	var sent []string
	var lastErr error
	for _, channel := range h.channels(input) {
		var err error
		switch channel {
		case models.ChannelEmail:
			if !h.config.EmailEnabled || h.email == nil || client.Email == "" {
				continue
			}
			_, err = h.email.SendEmail(ctx, client.Email, subject, body)
		case models.ChannelSMS:
			if !h.config.SMSEnabled || h.sms == nil || client.PhoneNumber == "" {
				continue
			}
			_, err = h.sms.SendSMS(ctx, client.PhoneNumber, body)
		default:
			continue
		}
		if err != nil {
			h.logger.Error("notification channel failed", map[string]interface{}{
				"channel":       channel,
				"applicationId": input.ApplicationID,
				"error":         err,
			})
			lastErr = apperrors.NewNotificationSendFailedError(channel, err)
			continue
		}
		sent = append(sent, channel)
	}

	if len(sent) == 0 && lastErr != nil {
		return nil, lastErr
	}

	out := &Output{
		NotificationID: notificationID,
		Status:         models.NotificationStatusDisabled,
		Channels:       sent,
		SentAt:         h.now().UTC().Format(time.RFC3339),
	}
	if len(sent) > 0 {
		out.Status = models.NotificationStatusSent
	}
	h.logger.Info("status notification processed", map[string]interface{}{
		"applicationId":  input.ApplicationID,
		"notificationId": notificationID,
		"status":         out.Status,
		"channels":       sent,
	})
	return out, nil
}

func (h *Handler) channels(input *Input) []string {
	if len(input.Channels) == 0 {
		return []string{models.ChannelEmail, models.ChannelSMS}
	}
	return input.Channels
}

func (h *Handler) render(status lifecycle.Status, data map[string]interface{}) (string, string) {
	tmpl, ok := h.templates[string(status)]
	if !ok {
		tmpl = h.templates[defaultTemplate]
	}
	return renderTemplate(tmpl.Subject, data), renderTemplate(tmpl.Body, data)
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

// renderTemplate fills {{key}} placeholders and drops the ones with no value.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl
	for k, v := range data {
		value := ""
		if v != nil {
			value = fmt.Sprintf("%v", v)
		}
		result = strings.ReplaceAll(result, "{{"+k+"}}", value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}
	return result
}

func loadTemplates() map[string]models.NotificationTemplate {
	return map[string]models.NotificationTemplate{
		defaultTemplate: {
			Type:    defaultTemplate,
			Subject: "Update on your application {{applicationId}}",
			Body:    "Hello {{fullName}}, your application {{applicationId}} is now: {{statusLabel}}. {{statusMessage}}.",
		},
		string(lifecycle.StatusRequestDocs): {
			Type:    string(lifecycle.StatusRequestDocs),
			Subject: "Documents needed for application {{applicationId}}",
			Body:    "Hello {{fullName}}, your agent needs documents for application {{applicationId}}. Please upload them in the portal.",
		},
		string(lifecycle.StatusRequestAdditionalDocs): {
			Type:    string(lifecycle.StatusRequestAdditionalDocs),
			Subject: "More documents needed for application {{applicationId}}",
			Body:    "Hello {{fullName}}, your agent needs additional documents for application {{applicationId}}. Please upload them in the portal.",
		},
		string(lifecycle.StatusRejected): {
			Type:    string(lifecycle.StatusRejected),
			Subject: "Action required on application {{applicationId}}",
			Body:    "Hello {{fullName}}, {{statusMessage}}.",
		},
	}
}
