// Package lifecycle owns the status workflow of a single service request:
// creation, the reactions to each agent-driven status, document bookkeeping,
// program onboarding and the client actions that close a request.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "case-portal/internal/common/errors"
	"case-portal/internal/common/logger"
	"case-portal/internal/common/metrics"
	"case-portal/internal/models"
	"case-portal/internal/programs"
	"case-portal/internal/store"
)

const (
	component = "lifecycle"

	// FormTemplateID is the FormsScreening document spread into every new
	// application when it exists.
	FormTemplateID = "MISN_form"
)

const (
	MessageApplicationSubmitted = "application-submitted"
	MessageServiceReceived      = "service-received"
)

// Publisher forwards client-driven transitions to the workflow engine,
// correlated by application ID.
type Publisher interface {
	PublishMessage(ctx context.Context, name, correlationKey string, variables map[string]interface{}) error
}

// ClientDirectory resolves the client record behind an application.
type ClientDirectory interface {
	ByClientID(ctx context.Context, clientID string) (*models.Client, error)
}

type Options struct {
	// ReceiptConfirmDelay is how long the receipt confirmation is shown
	// before the client is sent back to ReceiptRedirectPath.
	ReceiptConfirmDelay time.Duration
	ReceiptRedirectPath string
	DocumentPrefix      string
	// Publisher is optional. Publish failures are logged and never undo the
	// committed transition.
	Publisher Publisher
	Now       func() time.Time
}

func (o *Options) applyDefaults() {
	if o.ReceiptConfirmDelay <= 0 {
		o.ReceiptConfirmDelay = 3 * time.Second
	}
	if o.ReceiptRedirectPath == "" {
		o.ReceiptRedirectPath = "/my-service"
	}
	if o.DocumentPrefix == "" {
		o.DocumentPrefix = "documents/"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Engine struct {
	store    store.Store
	blobs    store.BlobStore
	programs programs.Catalog
	clients  ClientDirectory
	logger   logger.Logger
	opts     Options
}

func NewEngine(s store.Store, blobs store.BlobStore, catalog programs.Catalog, clients ClientDirectory, log logger.Logger, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		store:    s,
		blobs:    blobs,
		programs: catalog,
		clients:  clients,
		logger:   log.WithFields(map[string]interface{}{"component": component}),
		opts:     opts,
	}
}

func (e *Engine) now() time.Time {
	return models.Instant(e.opts.Now())
}

// Submit creates a new application for clientID in the submitted state and
// returns its ID.
func (e *Engine) Submit(ctx context.Context, clientID string) (id string, err error) {
	defer func() { metrics.RecordOperation(component, "submit", err) }()

	if strings.TrimSpace(clientID) == "" {
		return "", apperrors.NewValidationError("client id is required")
	}

	existing, err := e.store.Query(ctx, store.Query{
		Collection: models.CollectionApplications,
		Filters:    []store.Filter{store.Eq(models.FieldClientID, clientID)},
	})
	if err != nil {
		return "", apperrors.NewStoreOperationFailedError("query applications", err)
	}
	ids := make([]string, 0, len(existing))
	for _, doc := range existing {
		ids = append(ids, doc.ID)
	}
	id = NextApplicationID(clientID, ids)

	body, err := e.newApplicationBody(ctx, clientID)
	if err != nil {
		return "", err
	}
	if err := e.store.Set(ctx, models.CollectionApplications, id, body); err != nil {
		return "", apperrors.NewStoreOperationFailedError("create application", err)
	}

	e.logger.Info("application submitted", map[string]interface{}{
		"applicationId": id,
		"clientId":      clientID,
	})
	e.publish(ctx, MessageApplicationSubmitted, id, StatusSubmitted)
	return id, nil
}

func (e *Engine) publish(ctx context.Context, name, appID string, status Status) {
	if e.opts.Publisher == nil {
		return
	}
	err := e.opts.Publisher.PublishMessage(ctx, name, appID, map[string]interface{}{
		"applicationId": appID,
		"status":        status.String(),
	})
	if err != nil {
		e.logger.Warn("failed to publish workflow message", map[string]interface{}{
			"message":       name,
			"applicationId": appID,
			"error":         err.Error(),
		})
	}
}

func (e *Engine) newApplicationBody(ctx context.Context, clientID string) (map[string]interface{}, error) {
	now := e.now()
	app := models.Application{
		AutoFilledFormData: models.FormData{
			ClientID:     clientID,
			Status:       string(StatusSubmitted),
			AgentComment: []string{""},
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		UploadedDocumentsPath: map[string][]string{},
		AgentContactBack:      models.ContactBack{Timestamps: []models.ContactBackEntry{}},
		AgentComment: models.AgentComment{
			AgentCommentResponse:  []string{""},
			ClientCommentResponse: []string{""},
		},
		AIEvaluation: "submitted",
	}
	fields, err := store.ToMap(app)
	if err != nil {
		return nil, apperrors.NewStoreOperationFailedError("encode application", err)
	}

	body := map[string]interface{}{}
	template, err := e.store.Get(ctx, models.CollectionForms, FormTemplateID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		e.logger.Debug("no form template found", map[string]interface{}{"templateId": FormTemplateID})
	case err != nil:
		return nil, apperrors.NewStoreOperationFailedError("read form template", err)
	default:
		for k, v := range template.Data {
			body[k] = v
		}
	}
	for k, v := range fields {
		body[k] = v
	}
	return body, nil
}

// NextApplicationID returns <clientID>_<n> where n is one more than the
// highest sequence among existing. IDs of other clients are ignored.
func NextApplicationID(clientID string, existing []string) string {
	prefix := clientID + "_"
	max := 0
	for _, id := range existing {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
		if err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%d", prefix, max+1)
}

// Detail is the detail view of one application with the actions its current
// status enables.
type Detail struct {
	Application   models.Application
	Status        Status
	ReviewAgentID string

	Program            *models.Program
	ScreeningAvailable bool
	UploadsEnabled     bool
	CanAcknowledge     bool
	CanRaiseIssue      bool
	ContactBackEnabled bool
	ContactSlots       []time.Time
	ReceivedServices   []string
}

// Load reads an application and derives what the client may do next. A
// missing client record or program degrades to an empty field.
func (e *Engine) Load(ctx context.Context, appID string) (*Detail, error) {
	app, err := e.get(ctx, appID)
	if err != nil {
		return nil, err
	}

	status := Status(app.AutoFilledFormData.Status)
	d := &Detail{Application: *app, Status: status}

	if clientID := app.AutoFilledFormData.ClientID; clientID != "" {
		client, err := e.clients.ByClientID(ctx, clientID)
		if err != nil {
			e.logger.Warn("client not found for application", map[string]interface{}{
				"applicationId": appID,
				"clientId":      clientID,
				"error":         err,
			})
		} else {
			d.ReviewAgentID = client.AssignedAgentID
		}
	}

	switch {
	case status == StatusApproved:
		d.ScreeningAvailable = true
		program, err := e.programs.Get(ctx, app.AutoFilledFormData.FinalProgramName)
		if err != nil {
			e.logger.Warn("program not found", map[string]interface{}{
				"applicationId": appID,
				"program":       app.AutoFilledFormData.FinalProgramName,
				"error":         err,
			})
		} else {
			d.Program = program
		}
	case status.IsDocsRequest():
		d.UploadsEnabled = true
	case status == StatusServiceSubmitted:
		d.CanAcknowledge = true
		d.CanRaiseIssue = true
	case status == StatusRejected:
		d.ContactBackEnabled = true
	case status == StatusServiceReceived:
		d.ReceivedServices = app.AgentServiceSubmit
	}

	for _, entry := range app.AgentContactBack.Timestamps {
		d.ContactSlots = append(d.ContactSlots, entry.Timestamp)
	}
	return d, nil
}

// ApplyAgentDecision records a status chosen by an agent. programName is
// stored as the final program when moving to approved.
func (e *Engine) ApplyAgentDecision(ctx context.Context, appID string, target Status, programName string) (err error) {
	defer func() { metrics.RecordOperation(component, "apply_agent_decision", err) }()

	if !target.IsValid() || !AgentDriven(target) {
		return apperrors.NewValidationError(fmt.Sprintf("status %q cannot be set by an agent", target))
	}

	app, err := e.get(ctx, appID)
	if err != nil {
		return err
	}
	current := Status(app.AutoFilledFormData.Status)
	if !current.CanTransitionTo(target) {
		return apperrors.NewInvalidTransitionError(current.String(), target.String())
	}

	updates := []store.Update{
		store.Set(models.FieldStatus, target),
		store.Set(models.FieldFormUpdatedAt, e.now()),
	}
	if target == StatusApproved && programName != "" {
		updates = append(updates, store.Set(models.FieldFinalProgramName, programName))
	}
	if err := e.store.Update(ctx, models.CollectionApplications, appID, updates...); err != nil {
		return apperrors.NewStoreOperationFailedError("update status", err)
	}

	metrics.StatusTransitions.WithLabelValues(current.String(), target.String()).Inc()
	e.logger.Info("status changed", map[string]interface{}{
		"applicationId": appID,
		"from":          current,
		"to":            target,
	})
	return nil
}

// get reads and decodes one application.
func (e *Engine) get(ctx context.Context, appID string) (*models.Application, error) {
	if appID == "" {
		return nil, apperrors.NewValidationError("application id is required")
	}
	doc, err := e.store.Get(ctx, models.CollectionApplications, appID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NewResourceNotFoundError("application", appID)
	}
	if err != nil {
		return nil, apperrors.NewStoreOperationFailedError("read application", err)
	}

	var app models.Application
	if err := doc.Decode(&app); err != nil {
		return nil, apperrors.NewStoreOperationFailedError("decode application", err)
	}
	app.ID = doc.ID
	return &app, nil
}

func (e *Engine) requireStatus(app *models.Application, allowed func(Status) bool, action string) error {
	status := Status(app.AutoFilledFormData.Status)
	if !allowed(status) {
		return apperrors.NewValidationError(fmt.Sprintf("%s is not available while the application is %s", action, status))
	}
	return nil
}
