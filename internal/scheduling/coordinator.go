// Package scheduling keeps the contact-back slots stored on an application and
// the Visits collection in step, and runs the client side of visit
// scheduling.
//
// Every contact-back slot on an application is mirrored by one Visit with the
// same client_id and scheduled_date. The two records live in different
// collections and are written one after the other; when the second write
// fails the first is rolled back where possible and the caller receives a
// PARTIAL_FAILURE error telling whether the rollback succeeded.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "case-portal/internal/common/errors"
	"case-portal/internal/common/logger"
	"case-portal/internal/common/metrics"
	"case-portal/internal/lifecycle"
	"case-portal/internal/models"
	"case-portal/internal/store"
)

const (
	component = "scheduling"

	flowContactSlot   = "propose_contact_slot"
	flowDeleteSlot    = "delete_contact_slot"
	flowAppointment   = "propose_appointment"
	clockFormat       = "15:04:05"
	contactTopicStart = "Contact client "
)

// ClientDirectory resolves the client behind an application or visit.
type ClientDirectory interface {
	ByClientID(ctx context.Context, clientID string) (*models.Client, error)
}

type Options struct {
	// SlotDuration is the synthetic length of a contact-back visit.
	SlotDuration time.Duration
	// Location renders the start and end clock times of contact-back visits.
	Location *time.Location
	Now      func() time.Time
}

func (o *Options) applyDefaults() {
	if o.SlotDuration <= 0 {
		o.SlotDuration = time.Hour
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Coordinator struct {
	store    store.Store
	clients  ClientDirectory
	logger   logger.Logger
	validate *validator.Validate
	opts     Options
}

func NewCoordinator(s store.Store, clients ClientDirectory, log logger.Logger, opts Options) *Coordinator {
	opts.applyDefaults()
	return &Coordinator{
		store:    s,
		clients:  clients,
		logger:   log.WithFields(map[string]interface{}{"component": component}),
		validate: validator.New(),
		opts:     opts,
	}
}

func (c *Coordinator) now() time.Time {
	return models.Instant(c.opts.Now())
}

// ContactTopic is the topic of every visit created on behalf of a client.
func ContactTopic(fullName string) string {
	return contactTopicStart + fullName
}

// ProposeContactSlot offers the reviewing agent a time to call the client
// back on a rejected application. It appends at to the application's slots
// and creates the mirrored proposed Visit, returning the visit ID.
func (c *Coordinator) ProposeContactSlot(ctx context.Context, appID string, at time.Time) (visitID string, err error) {
	defer func() { metrics.RecordOperation(component, flowContactSlot, err) }()

	at = models.Instant(at)
	if !at.After(c.now()) {
		return "", apperrors.NewValidationError("please select a future date and time")
	}

	app, err := c.application(ctx, appID)
	if err != nil {
		return "", err
	}
	if lifecycle.Status(app.AutoFilledFormData.Status) != lifecycle.StatusRejected {
		return "", apperrors.NewValidationError(fmt.Sprintf("contact-back slots are not available while the application is %s", app.AutoFilledFormData.Status))
	}
	clientID := app.AutoFilledFormData.ClientID
	client, err := c.clients.ByClientID(ctx, clientID)
	if err != nil {
		return "", err
	}

	err = c.store.Update(ctx, models.CollectionApplications, appID,
		store.Append(models.FieldContactBack, models.ContactBackEntry{Timestamp: at}))
	if err != nil {
		return "", apperrors.NewStoreOperationFailedError("append contact slot", err)
	}

	now := c.now()
	local := at.In(c.opts.Location)
	visit := models.Visit{
		AgentID:       client.AssignedAgentID,
		ClientID:      clientID,
		ScheduledDate: at,
		StartTime:     local.Format(clockFormat),
		EndTime:       local.Add(c.opts.SlotDuration).Format(clockFormat),
		Topic:         ContactTopic(client.FullName),
		Status:        models.VisitStatusProposed,
		InitiatedBy:   models.InitiatedByClient,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	visitID, err = c.store.Add(ctx, models.CollectionVisits, visit)
	if err != nil {
		compensated := c.removeSlot(ctx, appID, at)
		return "", c.partialFailure(flowContactSlot, "create visit", compensated, err, map[string]interface{}{
			"applicationId": appID,
			"slot":          at,
		})
	}

	c.logger.Info("contact slot proposed", map[string]interface{}{
		"applicationId": appID,
		"visitId":       visitID,
		"slot":          at,
	})
	return visitID, nil
}

// removeSlot undoes the append of at by rewriting the slot list without the
// last entry equal to it.
func (c *Coordinator) removeSlot(ctx context.Context, appID string, at time.Time) bool {
	app, err := c.application(ctx, appID)
	if err != nil {
		return false
	}
	entries := app.AgentContactBack.Timestamps
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Topic == "" && entries[i].Timestamp.Equal(at) {
			remaining := append(append([]models.ContactBackEntry{}, entries[:i]...), entries[i+1:]...)
			err := c.store.Update(ctx, models.CollectionApplications, appID, store.Set(models.FieldContactBack, remaining))
			return err == nil
		}
	}
	return false
}

// DeleteContactSlot removes the slot at index and every Visit of the client
// scheduled at that instant. It returns how many visits were deleted; finding
// none is not an error.
func (c *Coordinator) DeleteContactSlot(ctx context.Context, appID string, index int) (deleted int, err error) {
	defer func() { metrics.RecordOperation(component, flowDeleteSlot, err) }()

	app, err := c.application(ctx, appID)
	if err != nil {
		return 0, err
	}
	entries := app.AgentContactBack.Timestamps
	if index < 0 || index >= len(entries) {
		return 0, apperrors.NewResourceNotFoundError("contact slot", strconv.Itoa(index))
	}
	removed := entries[index]
	remaining := append(append([]models.ContactBackEntry{}, entries[:index]...), entries[index+1:]...)

	err = c.store.Update(ctx, models.CollectionApplications, appID, store.Set(models.FieldContactBack, remaining))
	if err != nil {
		return 0, apperrors.NewStoreOperationFailedError("rewrite contact slots", err)
	}

	clientID := app.AutoFilledFormData.ClientID
	visits, err := c.store.Query(ctx, store.Query{
		Collection: models.CollectionVisits,
		Filters: []store.Filter{
			store.Eq("client_id", clientID),
			store.Eq("scheduled_date", models.Instant(removed.Timestamp)),
		},
	})
	if err != nil {
		return 0, c.partialFailure(flowDeleteSlot, "find visits", false, err, map[string]interface{}{"applicationId": appID})
	}
	for _, doc := range visits {
		if err := c.store.Delete(ctx, models.CollectionVisits, doc.ID); err != nil {
			return deleted, c.partialFailure(flowDeleteSlot, "delete visit", false, err, map[string]interface{}{
				"applicationId": appID,
				"visitId":       doc.ID,
			})
		}
		deleted++
	}

	c.logger.Info("contact slot deleted", map[string]interface{}{
		"applicationId": appID,
		"slot":          removed.Timestamp,
		"visitsDeleted": deleted,
	})
	return deleted, nil
}

func (c *Coordinator) partialFailure(flow, step string, compensated bool, cause error, fields map[string]interface{}) error {
	metrics.PartialFailures.WithLabelValues(flow, strconv.FormatBool(compensated)).Inc()
	fields["flow"] = flow
	fields["step"] = step
	fields["compensated"] = compensated
	fields["error"] = cause
	c.logger.Error("flow partially failed", fields)
	return apperrors.NewPartialFailureError(flow, step, compensated, cause)
}

func (c *Coordinator) application(ctx context.Context, appID string) (*models.Application, error) {
	if appID == "" {
		return nil, apperrors.NewValidationError("application id is required")
	}
	doc, err := c.store.Get(ctx, models.CollectionApplications, appID)
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
