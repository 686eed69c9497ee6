package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "case-portal/internal/common/errors"
	"case-portal/internal/common/metrics"
	"case-portal/internal/models"
	"case-portal/internal/store"
)

// RespondToComment appends the client's reply to the agent comment thread.
func (e *Engine) RespondToComment(ctx context.Context, appID, text string) (err error) {
	defer func() { metrics.RecordOperation(component, "respond_to_comment", err) }()

	text = strings.TrimSpace(text)
	if text == "" {
		return apperrors.NewValidationError("response text is required")
	}
	if _, err := e.get(ctx, appID); err != nil {
		return err
	}
	if err := e.store.Update(ctx, models.CollectionApplications, appID, store.Append(models.FieldCommentResponses, text)); err != nil {
		return apperrors.NewStoreOperationFailedError("append comment response", err)
	}
	return nil
}

// Acknowledgement tells the caller how long to show the receipt confirmation
// and where to go afterwards.
type Acknowledgement struct {
	ConfirmFor time.Duration
	RedirectTo string
}

// AcknowledgeReceipt moves a service_submitted application to
// service_received.
func (e *Engine) AcknowledgeReceipt(ctx context.Context, appID string) (ack *Acknowledgement, err error) {
	defer func() { metrics.RecordOperation(component, "acknowledge_receipt", err) }()

	app, err := e.get(ctx, appID)
	if err != nil {
		return nil, err
	}
	current := Status(app.AutoFilledFormData.Status)
	if !current.CanTransitionTo(StatusServiceReceived) {
		return nil, apperrors.NewInvalidTransitionError(current.String(), StatusServiceReceived.String())
	}

	err = e.store.Update(ctx, models.CollectionApplications, appID,
		store.Set(models.FieldStatus, StatusServiceReceived),
		store.Set(models.FieldFormUpdatedAt, e.now()),
	)
	if err != nil {
		return nil, apperrors.NewStoreOperationFailedError("acknowledge receipt", err)
	}
	metrics.StatusTransitions.WithLabelValues(current.String(), StatusServiceReceived.String()).Inc()
	e.publish(ctx, MessageServiceReceived, appID, StatusServiceReceived)

	return &Acknowledgement{
		ConfirmFor: e.opts.ReceiptConfirmDelay,
		RedirectTo: e.opts.ReceiptRedirectPath,
	}, nil
}

// RaiseIssue opens an empty ticket between the client and the reviewing
// agent and returns its ID for the ticket chat.
func (e *Engine) RaiseIssue(ctx context.Context, appID string) (ticketID string, err error) {
	defer func() { metrics.RecordOperation(component, "raise_issue", err) }()

	detail, err := e.Load(ctx, appID)
	if err != nil {
		return "", err
	}
	if !detail.CanRaiseIssue {
		return "", apperrors.NewValidationError(fmt.Sprintf("an issue cannot be raised while the application is %s", detail.Status))
	}

	now := e.now()
	ticket := models.Ticket{
		ClientID:         detail.Application.AutoFilledFormData.ClientID,
		AgentID:          detail.ReviewAgentID,
		IssueDescription: "",
		Status:           models.TicketStatusOpen,
		ChatLog:          []models.TicketEntry{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	ticketID, err = e.store.Add(ctx, models.CollectionTickets, ticket)
	if err != nil {
		return "", apperrors.NewStoreOperationFailedError("create ticket", err)
	}

	e.logger.Info("issue ticket raised", map[string]interface{}{
		"applicationId": appID,
		"ticketId":      ticketID,
	})
	return ticketID, nil
}

// AnswerQuestion records the answer to one screening question and refreshes
// the application summary from the first answer.
func (e *Engine) AnswerQuestion(ctx context.Context, appID string, index int, answer models.ScreeningAnswer) (err error) {
	defer func() { metrics.RecordOperation(component, "answer_question", err) }()

	app, err := e.get(ctx, appID)
	if err != nil {
		return err
	}
	if err := e.requireStatus(app, isScreening, "screening"); err != nil {
		return err
	}
	answers := app.FormScreeningData
	if index < 0 || index >= len(answers) {
		return apperrors.NewValidationError(fmt.Sprintf("question %d does not exist", index))
	}

	q := &answers[index]
	q.Answer = answer.Answer
	if q.Answer == "" {
		q.Answer = "N/A"
	}
	q.AudioURL = answer.AudioURL
	q.TranscribedText = answer.TranscribedText

	return e.writeScreening(ctx, appID, answers)
}

// CompleteScreening replaces the screening answers in one write.
func (e *Engine) CompleteScreening(ctx context.Context, appID string, answers []models.ScreeningAnswer) (err error) {
	defer func() { metrics.RecordOperation(component, "complete_screening", err) }()

	if len(answers) == 0 {
		return apperrors.NewValidationError("at least one screening answer is required")
	}
	app, err := e.get(ctx, appID)
	if err != nil {
		return err
	}
	if err := e.requireStatus(app, isScreening, "screening"); err != nil {
		return err
	}
	return e.writeScreening(ctx, appID, answers)
}

func (e *Engine) writeScreening(ctx context.Context, appID string, answers []models.ScreeningAnswer) error {
	summary := ""
	if len(answers) > 0 {
		summary = answers[0].Answer
	}
	err := e.store.Update(ctx, models.CollectionApplications, appID,
		store.Set(models.FieldScreening, answers),
		store.Set(models.FieldSummary, summary),
	)
	if err != nil {
		return apperrors.NewStoreOperationFailedError("record screening", err)
	}
	return nil
}

// The interview runs right after submission and again once approved.
func isScreening(s Status) bool {
	return s == StatusSubmitted || s == StatusApproved
}
