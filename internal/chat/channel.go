// Package chat implements the client side of the two conversation channels:
// the standing client/agent chat with read receipts, and the per-ticket issue
// chat.
package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	apperrors "case-portal/internal/common/errors"
	"case-portal/internal/common/logger"
	"case-portal/internal/common/metrics"
	"case-portal/internal/models"
	"case-portal/internal/store"
)

const component = "chat"

// Channel is the chat document shared by a client and their agent, keyed by
// client ID.
type Channel struct {
	store  store.Store
	logger logger.Logger
	now    func() time.Time
}

func NewChannel(s store.Store, log logger.Logger) *Channel {
	return &Channel{
		store:  s,
		logger: log.WithFields(map[string]interface{}{"component": component}),
		now:    time.Now,
	}
}

// Send appends an unread message from the client. Blank messages are dropped
// without error.
func (c *Channel) Send(ctx context.Context, clientID, senderName, message string) (err error) {
	if strings.TrimSpace(message) == "" {
		return nil
	}
	defer func() { metrics.RecordOperation(component, "send", err) }()
	if clientID == "" {
		return apperrors.NewValidationError("client id is required")
	}

	entry := models.ChatEntry{
		Message:   message,
		Timestamp: models.Instant(c.now()),
		Sender:    senderName,
		Read:      false,
	}
	err = c.store.Update(ctx, models.CollectionAgentChat, clientID, store.Append(models.FieldClientChat, entry))
	if errors.Is(err, store.ErrNotFound) {
		// an empty merge creates the document without touching entries a
		// concurrent writer may have added
		if err = c.store.Merge(ctx, models.CollectionAgentChat, clientID, map[string]interface{}{}); err == nil {
			err = c.store.Update(ctx, models.CollectionAgentChat, clientID, store.Append(models.FieldClientChat, entry))
		}
	}
	if err != nil {
		return apperrors.NewStoreOperationFailedError("send chat message", err)
	}
	return nil
}

// Merge interleaves both sides of the conversation in ascending timestamp
// order. Entries with equal timestamps keep agent-before-client order and
// their order within each side.
func Merge(agent, client []models.ChatEntry) []models.ChatEntry {
	out := make([]models.ChatEntry, 0, len(agent)+len(client))
	out = append(out, agent...)
	out = append(out, client...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// UnreadCount counts agent messages the client has not seen yet.
func UnreadCount(doc models.ChatDocument) int {
	n := 0
	for _, e := range doc.AgentChat {
		if !e.Read {
			n++
		}
	}
	return n
}

// View streams the merged conversation. Every snapshot containing unread
// agent messages marks all of them read in a single write; a snapshot with
// none performs no write.
func (c *Channel) View(ctx context.Context, clientID string) (<-chan []models.ChatEntry, <-chan error, error) {
	snaps, err := c.store.WatchDocument(ctx, models.CollectionAgentChat, clientID)
	if err != nil {
		return nil, nil, apperrors.NewStoreOperationFailedError("watch chat", err)
	}

	out := make(chan []models.ChatEntry)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for snap := range snaps {
			doc, err := decodeSnapshot(snap)
			if err != nil {
				report(errs, err)
				continue
			}
			if UnreadCount(doc) > 0 {
				if err := c.markRead(ctx, clientID, doc.AgentChat); err != nil {
					report(errs, err)
				}
			}
			select {
			case out <- Merge(doc.AgentChat, doc.ClientChat):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errs, nil
}

// MarkRead acknowledges every pending agent message once, outside a view.
// It reports how many entries changed.
func (c *Channel) MarkRead(ctx context.Context, clientID string) (int, error) {
	doc, err := c.document(ctx, clientID)
	if err != nil {
		return 0, err
	}
	n := UnreadCount(doc)
	if n == 0 {
		return 0, nil
	}
	return n, c.markRead(ctx, clientID, doc.AgentChat)
}

func (c *Channel) markRead(ctx context.Context, clientID string, agent []models.ChatEntry) (err error) {
	defer func() { metrics.RecordOperation(component, "mark_read", err) }()

	updated := make([]models.ChatEntry, len(agent))
	for i, e := range agent {
		e.Read = true
		updated[i] = e
	}
	if err := c.store.Update(ctx, models.CollectionAgentChat, clientID, store.Set(models.FieldAgentChat, updated)); err != nil {
		c.logger.Warn("marking agent messages read failed", map[string]interface{}{
			"clientId": clientID,
			"error":    err,
		})
		return apperrors.NewStoreOperationFailedError("mark messages read", err)
	}
	return nil
}

// Unread streams the number of unread agent messages for the navigation
// badge. It never marks anything read.
func (c *Channel) Unread(ctx context.Context, clientID string) (<-chan int, <-chan error, error) {
	snaps, err := c.store.WatchDocument(ctx, models.CollectionAgentChat, clientID)
	if err != nil {
		return nil, nil, apperrors.NewStoreOperationFailedError("watch chat", err)
	}

	out := make(chan int)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for snap := range snaps {
			doc, err := decodeSnapshot(snap)
			if err != nil {
				report(errs, err)
				continue
			}
			select {
			case out <- UnreadCount(doc):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errs, nil
}

func (c *Channel) document(ctx context.Context, clientID string) (models.ChatDocument, error) {
	var doc models.ChatDocument
	raw, err := c.store.Get(ctx, models.CollectionAgentChat, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return doc, nil
	}
	if err != nil {
		return doc, apperrors.NewStoreOperationFailedError("read chat", err)
	}
	if err := raw.Decode(&doc); err != nil {
		return doc, apperrors.NewStoreOperationFailedError("decode chat", err)
	}
	return doc, nil
}

// A missing chat document reads as an empty conversation.
func decodeSnapshot(snap store.DocumentSnapshot) (models.ChatDocument, error) {
	var doc models.ChatDocument
	if snap.Err != nil {
		return doc, snap.Err
	}
	if !snap.Exists || snap.Document == nil {
		return doc, nil
	}
	if err := snap.Document.Decode(&doc); err != nil {
		return doc, err
	}
	return doc, nil
}

func report(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
	}
}
