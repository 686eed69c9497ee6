package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "case-portal/internal/common/errors"
	"case-portal/internal/common/logger"
	"case-portal/internal/common/metrics"
	"case-portal/internal/models"
	"case-portal/internal/store"
)

const (
	fieldChatLog     = "chat_log"
	fieldDescription = "issue_description"
	fieldStatus      = "status"
	fieldUpdatedAt   = "updated_at"
)

// Tickets is the issue chat attached to a Ticket document.
type Tickets struct {
	store  store.Store
	logger logger.Logger
	now    func() time.Time
}

func NewTickets(s store.Store, log logger.Logger) *Tickets {
	return &Tickets{
		store:  s,
		logger: log.WithFields(map[string]interface{}{"component": component}),
		now:    time.Now,
	}
}

// OpenForClient returns the client's first open ticket. If its issue
// description is not yet part of the chat log it is appended first, with the
// client as sender, so the conversation always starts with the issue.
func (t *Tickets) OpenForClient(ctx context.Context, clientID string) (ticket *models.Ticket, err error) {
	defer func() { metrics.RecordOperation(component, "open_ticket", err) }()

	docs, err := t.store.Query(ctx, store.Query{
		Collection: models.CollectionTickets,
		Filters: []store.Filter{
			store.Eq("client_id", clientID),
			store.Eq(fieldStatus, models.TicketStatusOpen),
		},
		Limit: 1,
	})
	if err != nil {
		return nil, apperrors.NewStoreOperationFailedError("query tickets", err)
	}
	if len(docs) == 0 {
		return nil, apperrors.NewResourceNotFoundError("ticket", "no open ticket for client "+clientID)
	}
	ticket, err = decodeTicket(docs[0])
	if err != nil {
		return nil, err
	}

	if NeedsBootstrap(ticket) {
		now := models.Instant(t.now())
		entry := models.TicketEntry{Message: ticket.IssueDescription, Timestamp: now, Sender: ticket.ClientID}
		err := t.store.Update(ctx, models.CollectionTickets, ticket.ID,
			store.Append(fieldChatLog, entry),
			store.Set(fieldUpdatedAt, now),
		)
		if err != nil {
			return nil, apperrors.NewStoreOperationFailedError("bootstrap ticket chat", err)
		}
		ticket.ChatLog = append(ticket.ChatLog, entry)
		ticket.UpdatedAt = now
	}
	return ticket, nil
}

// NeedsBootstrap reports whether the issue description still has to be
// mirrored into the chat log. An empty description is never mirrored.
func NeedsBootstrap(ticket *models.Ticket) bool {
	if ticket.IssueDescription == "" {
		return false
	}
	for _, e := range ticket.ChatLog {
		if e.Message == ticket.IssueDescription {
			return false
		}
	}
	return true
}

// Post appends a message to an open ticket. Blank messages are dropped.
func (t *Tickets) Post(ctx context.Context, ticketID, senderName, message string) (err error) {
	if strings.TrimSpace(message) == "" {
		return nil
	}
	defer func() { metrics.RecordOperation(component, "post_ticket_message", err) }()

	ticket, err := t.get(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.Status != models.TicketStatusOpen {
		return apperrors.NewValidationError("the ticket is closed")
	}
	now := models.Instant(t.now())
	err = t.store.Update(ctx, models.CollectionTickets, ticketID,
		store.Append(fieldChatLog, models.TicketEntry{Message: message, Timestamp: now, Sender: senderName}),
		store.Set(fieldUpdatedAt, now),
	)
	if err != nil {
		return apperrors.NewStoreOperationFailedError("post ticket message", err)
	}
	return nil
}

// Describe sets the issue description the client typed for the ticket.
func (t *Tickets) Describe(ctx context.Context, ticketID, text string) (err error) {
	defer func() { metrics.RecordOperation(component, "describe_ticket", err) }()

	text = strings.TrimSpace(text)
	if text == "" {
		return apperrors.NewValidationError("issue description is required")
	}
	if _, err := t.get(ctx, ticketID); err != nil {
		return err
	}
	err = t.store.Update(ctx, models.CollectionTickets, ticketID,
		store.Set(fieldDescription, text),
		store.Set(fieldUpdatedAt, models.Instant(t.now())),
	)
	if err != nil {
		return apperrors.NewStoreOperationFailedError("describe ticket", err)
	}
	return nil
}

// Close marks the ticket resolved. Closing a closed ticket is a no-op.
func (t *Tickets) Close(ctx context.Context, ticketID string) (err error) {
	defer func() { metrics.RecordOperation(component, "close_ticket", err) }()

	ticket, err := t.get(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.Status == models.TicketStatusClosed {
		return nil
	}
	err = t.store.Update(ctx, models.CollectionTickets, ticketID,
		store.Set(fieldStatus, models.TicketStatusClosed),
		store.Set(fieldUpdatedAt, models.Instant(t.now())),
	)
	if err != nil {
		return apperrors.NewStoreOperationFailedError("close ticket", err)
	}
	t.logger.Info("ticket closed", map[string]interface{}{"ticketId": ticketID})
	return nil
}

func (t *Tickets) get(ctx context.Context, ticketID string) (*models.Ticket, error) {
	if ticketID == "" {
		return nil, apperrors.NewValidationError("ticket id is required")
	}
	doc, err := t.store.Get(ctx, models.CollectionTickets, ticketID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NewResourceNotFoundError("ticket", ticketID)
	}
	if err != nil {
		return nil, apperrors.NewStoreOperationFailedError("read ticket", err)
	}
	return decodeTicket(doc)
}

func decodeTicket(doc *store.Document) (*models.Ticket, error) {
	var ticket models.Ticket
	if err := doc.Decode(&ticket); err != nil {
		return nil, apperrors.NewStoreOperationFailedError("decode ticket", err)
	}
	ticket.ID = doc.ID
	return &ticket, nil
}
