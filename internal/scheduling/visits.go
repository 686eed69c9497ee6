package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	apperrors "case-portal/internal/common/errors"
	"case-portal/internal/common/metrics"
	"case-portal/internal/models"
	"case-portal/internal/store"
)

// AppointmentRequest is a routine visit proposed by the client.
type AppointmentRequest struct {
	Date      time.Time `json:"date" validate:"required"`
	StartTime string    `json:"start_time" validate:"required"`
	EndTime   string    `json:"end_time" validate:"required"`
	Topic     string    `json:"topic" validate:"required"`
}

// ProposeAppointment creates a client-initiated proposed Visit with the
// client's assigned agent, then appends a contact-back marker to the
// client's first application. When the marker cannot be written the visit is
// deleted again.
func (c *Coordinator) ProposeAppointment(ctx context.Context, clientID string, req AppointmentRequest) (visitID string, err error) {
	defer func() { metrics.RecordOperation(component, flowAppointment, err) }()

	if err := c.validate.Struct(req); err != nil {
		return "", apperrors.NewValidationError("please provide start and end times and add a topic")
	}
	client, err := c.clients.ByClientID(ctx, clientID)
	if err != nil {
		return "", err
	}
	if client.AssignedAgentID == "" {
		return "", apperrors.NewValidationError("assigned agent not found")
	}

	now := c.now()
	visitID, err = c.store.Add(ctx, models.CollectionVisits, models.Visit{
		AgentID:       client.AssignedAgentID,
		ClientID:      clientID,
		ScheduledDate: models.Instant(req.Date),
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Topic:         req.Topic,
		Status:        models.VisitStatusProposed,
		InitiatedBy:   models.InitiatedByClient,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return "", apperrors.NewStoreOperationFailedError("create visit", err)
	}

	apps, err := c.store.Query(ctx, store.Query{
		Collection: models.CollectionApplications,
		Filters:    []store.Filter{store.Eq(models.FieldClientID, clientID)},
		OrderBy:    models.FieldFormCreatedAt,
		Limit:      1,
	})
	if err == nil && len(apps) > 0 {
		marker := models.ContactBackEntry{Timestamp: now, Topic: ContactTopic(client.FullName)}
		err = c.store.Update(ctx, models.CollectionApplications, apps[0].ID, store.Append(models.FieldContactBack, marker))
	}
	if err != nil {
		compensated := c.store.Delete(ctx, models.CollectionVisits, visitID) == nil
		return "", c.partialFailure(flowAppointment, "append contact marker", compensated, err, map[string]interface{}{
			"clientId": clientID,
			"visitId":  visitID,
		})
	}

	c.logger.Info("appointment proposed", map[string]interface{}{
		"clientId": clientID,
		"visitId":  visitID,
	})
	return visitID, nil
}

// ConfirmVisit accepts a visit the agent proposed to clientID.
func (c *Coordinator) ConfirmVisit(ctx context.Context, clientID, visitID string) error {
	return c.transition(ctx, "confirm_visit", clientID, visitID, models.VisitStatusConfirmed, agentProposal)
}

// RejectVisit declines a visit the agent proposed to clientID.
func (c *Coordinator) RejectVisit(ctx context.Context, clientID, visitID string) error {
	return c.transition(ctx, "reject_visit", clientID, visitID, models.VisitStatusRejected, agentProposal)
}

// MarkVisited closes a confirmed visit of clientID.
func (c *Coordinator) MarkVisited(ctx context.Context, clientID, visitID string) error {
	return c.transition(ctx, "mark_visited", clientID, visitID, models.VisitStatusVisited, func(v *models.Visit) bool {
		return v.Status == models.VisitStatusConfirmed
	})
}

// Clients answer agent proposals; their own proposals are already agreed to.
func agentProposal(v *models.Visit) bool {
	return v.Status == models.VisitStatusProposed && v.InitiatedBy == models.InitiatedByAgent
}

func deletable(v *models.Visit) bool {
	switch v.Status {
	case models.VisitStatusConfirmed:
		return true
	case models.VisitStatusProposed:
		return v.InitiatedBy != models.InitiatedByAgent
	}
	return false
}

func (c *Coordinator) transition(ctx context.Context, op, clientID, visitID, target string, allowed func(*models.Visit) bool) (err error) {
	defer func() { metrics.RecordOperation(component, op, err) }()

	visit, err := c.ownVisit(ctx, clientID, visitID)
	if err != nil {
		return err
	}
	if !allowed(visit) {
		return apperrors.NewInvalidTransitionError(visit.Status, target)
	}
	err = c.store.Update(ctx, models.CollectionVisits, visitID,
		store.Set("status", target),
		store.Set("updated_at", c.now()),
	)
	if err != nil {
		return apperrors.NewStoreOperationFailedError("update visit", err)
	}
	c.logger.Info("visit updated", map[string]interface{}{
		"visitId": visitID,
		"from":    visit.Status,
		"to":      target,
	})
	return nil
}

// DeleteVisit hard-deletes a confirmed visit of clientID or one the client
// proposed.
func (c *Coordinator) DeleteVisit(ctx context.Context, clientID, visitID string) (err error) {
	defer func() { metrics.RecordOperation(component, "delete_visit", err) }()

	visit, err := c.ownVisit(ctx, clientID, visitID)
	if err != nil {
		return err
	}
	if !deletable(visit) {
		return apperrors.NewValidationError(fmt.Sprintf("a %s visit initiated by the %s cannot be deleted", visit.Status, visit.InitiatedBy))
	}
	if err := c.store.Delete(ctx, models.CollectionVisits, visitID); err != nil {
		return apperrors.NewStoreOperationFailedError("delete visit", err)
	}
	return nil
}

// ListVisits returns every visit of the client, newest first.
func (c *Coordinator) ListVisits(ctx context.Context, clientID string) ([]models.Visit, error) {
	docs, err := c.store.Query(ctx, store.Query{
		Collection: models.CollectionVisits,
		Filters:    []store.Filter{store.Eq("client_id", clientID)},
	})
	if err != nil {
		return nil, apperrors.NewStoreOperationFailedError("query visits", err)
	}

	visits := make([]models.Visit, 0, len(docs))
	for _, doc := range docs {
		v, err := decodeVisit(doc)
		if err != nil {
			return nil, err
		}
		visits = append(visits, *v)
	}
	sort.SliceStable(visits, func(i, j int) bool { return visits[i].CreatedAt.After(visits[j].CreatedAt) })
	return visits, nil
}

// VisitsOn returns the client's visits scheduled on the calendar day of day,
// in the coordinator's location.
func (c *Coordinator) VisitsOn(ctx context.Context, clientID string, day time.Time) ([]models.Visit, error) {
	all, err := c.ListVisits(ctx, clientID)
	if err != nil {
		return nil, err
	}
	y, m, d := day.In(c.opts.Location).Date()
	var out []models.Visit
	for _, v := range all {
		vy, vm, vd := v.ScheduledDate.In(c.opts.Location).Date()
		if vy == y && vm == m && vd == d {
			out = append(out, v)
		}
	}
	return out, nil
}

func (c *Coordinator) visit(ctx context.Context, visitID string) (*models.Visit, error) {
	if visitID == "" {
		return nil, apperrors.NewValidationError("visit id is required")
	}
	doc, err := c.store.Get(ctx, models.CollectionVisits, visitID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NewResourceNotFoundError("visit", visitID)
	}
	if err != nil {
		return nil, apperrors.NewStoreOperationFailedError("read visit", err)
	}
	return decodeVisit(doc)
}

// ownVisit reads a visit of clientID. Visits of other clients are reported as
// missing.
func (c *Coordinator) ownVisit(ctx context.Context, clientID, visitID string) (*models.Visit, error) {
	if clientID == "" {
		return nil, apperrors.NewValidationError("client id is required")
	}
	visit, err := c.visit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if visit.ClientID != clientID {
		c.logger.Warn("visit requested by another client", map[string]interface{}{
			"visitId":  visitID,
			"clientId": clientID,
		})
		return nil, apperrors.NewResourceNotFoundError("visit", visitID)
	}
	return visit, nil
}

func decodeVisit(doc *store.Document) (*models.Visit, error) {
	var v models.Visit
	if err := doc.Decode(&v); err != nil {
		return nil, apperrors.NewStoreOperationFailedError("decode visit", err)
	}
	v.ID = doc.ID
	return &v, nil
}
