package chat

import (
	"context"
	"testing"
	"time"

	apperrors "case-portal/internal/common/errors"
	"case-portal/internal/common/logger"
	"case-portal/internal/models"
	"case-portal/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

// countingStore counts Update calls so tests can assert that no write happened.
type countingStore struct {
	store.Store
	updates int
}

func (c *countingStore) Update(ctx context.Context, collection, id string, updates ...store.Update) error {
	c.updates++
	return c.Store.Update(ctx, collection, id, updates...)
}

func TestMerge(t *testing.T) {
	agent := []models.ChatEntry{
		{Message: "a1", Timestamp: at(1)},
		{Message: "a3", Timestamp: at(3)},
		{Message: "a-tie", Timestamp: at(5)},
	}
	client := []models.ChatEntry{
		{Message: "c0", Timestamp: at(0)},
		{Message: "c2", Timestamp: at(2)},
		{Message: "c-tie", Timestamp: at(5)},
	}

	merged := Merge(agent, client)
	var got []string
	for _, e := range merged {
		got = append(got, e.Message)
	}
	assert.Equal(t, []string{"c0", "a1", "c2", "a3", "a-tie", "c-tie"}, got)
	assert.Equal(t, "a1", agent[0].Message, "inputs are not reordered")
	assert.Empty(t, Merge(nil, nil))
}

func TestChannel_Send(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := NewChannel(s, logger.NewTestLogger(t))
	c.now = func() time.Time { return base }

	require.NoError(t, c.Send(ctx, "000001", "Ana Diaz", "   "))
	_, err := s.Get(ctx, models.CollectionAgentChat, "000001")
	assert.ErrorIs(t, err, store.ErrNotFound, "blank message writes nothing")

	require.NoError(t, c.Send(ctx, "000001", "Ana Diaz", "hello"))
	require.NoError(t, c.Send(ctx, "000001", "Ana Diaz", "hello"))

	doc, err := c.document(ctx, "000001")
	require.NoError(t, err)
	assert.Empty(t, doc.AgentChat)
	require.Len(t, doc.ClientChat, 2)
	assert.Equal(t, models.ChatEntry{Message: "hello", Timestamp: base, Sender: "Ana Diaz"}, doc.ClientChat[0])
}

// agentFirstStore creates the chat document on the agent's behalf right
// before the client's create path runs.
type agentFirstStore struct {
	store.Store
	agent models.ChatEntry
}

func (a *agentFirstStore) Merge(ctx context.Context, collection, id string, data interface{}) error {
	if err := a.Store.Set(ctx, collection, id, models.ChatDocument{
		AgentChat:  []models.ChatEntry{a.agent},
		ClientChat: []models.ChatEntry{},
	}); err != nil {
		return err
	}
	return a.Store.Merge(ctx, collection, id, data)
}

func TestChannel_SendKeepsConcurrentlyCreatedDocument(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	agent := models.ChatEntry{Message: "welcome", Timestamp: at(-1), Sender: "Maria Lopez"}
	c := NewChannel(&agentFirstStore{Store: mem, agent: agent}, logger.NewTestLogger(t))
	c.now = func() time.Time { return base }

	require.NoError(t, c.Send(ctx, "000001", "Ana Diaz", "hello"))

	doc, err := c.document(ctx, "000001")
	require.NoError(t, err)
	require.Len(t, doc.AgentChat, 1)
	assert.Equal(t, "welcome", doc.AgentChat[0].Message)
	require.Len(t, doc.ClientChat, 1)
	assert.Equal(t, "hello", doc.ClientChat[0].Message)
}

func seedChat(t *testing.T, s store.Store, agent ...models.ChatEntry) {
	t.Helper()
	require.NoError(t, s.Set(context.Background(), models.CollectionAgentChat, "000001", models.ChatDocument{
		AgentChat:  agent,
		ClientChat: []models.ChatEntry{{Message: "hi", Timestamp: at(0), Sender: "Ana Diaz"}},
	}))
}

func TestChannel_ViewMarksReadOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := store.NewMemoryStore()
	seedChat(t, mem,
		models.ChatEntry{Message: "one", Timestamp: at(1), Sender: "Maria"},
		models.ChatEntry{Message: "two", Timestamp: at(2), Sender: "Maria", Read: true},
		models.ChatEntry{Message: "three", Timestamp: at(3), Sender: "Maria"},
	)
	counting := &countingStore{Store: mem}
	c := NewChannel(counting, logger.NewTestLogger(t))

	timelines, _, err := c.View(ctx, "000001")
	require.NoError(t, err)

	first := <-timelines
	require.Len(t, first, 4)
	assert.Equal(t, "hi", first[0].Message)
	assert.Equal(t, 1, counting.updates)

	// The mark-read write produces a second snapshot with nothing left unread.
	select {
	case second := <-timelines:
		require.Len(t, second, 4)
		for _, e := range second[1:] {
			assert.True(t, e.Read)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot after marking read")
	}
	assert.Equal(t, 1, counting.updates)

	n, err := c.MarkRead(ctx, "000001")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, counting.updates)
}

func TestChannel_UnreadBadge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := store.NewMemoryStore()
	c := NewChannel(s, logger.NewTestLogger(t))

	counts, _, err := c.Unread(ctx, "000001")
	require.NoError(t, err)
	assert.Equal(t, 0, <-counts, "missing document reads as empty")

	seedChat(t, s,
		models.ChatEntry{Message: "one", Timestamp: at(1)},
		models.ChatEntry{Message: "two", Timestamp: at(2)},
	)
	assert.Eventually(t, func() bool {
		select {
		case n := <-counts:
			return n == 2
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	n, err := c.MarkRead(ctx, "000001")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Eventually(t, func() bool {
		select {
		case n := <-counts:
			return n == 0
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestChannel_SubscriptionsStopWithContext(t *testing.T) {
	s := store.NewMemoryStore()
	c := NewChannel(s, logger.NewTestLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	timelines, _, err := c.View(ctx, "000001")
	require.NoError(t, err)
	counts, _, err := c.Unread(ctx, "000001")
	require.NoError(t, err)
	<-timelines
	<-counts
	assert.Equal(t, 2, s.WatcherCount())

	cancel()
	assert.Eventually(t, func() bool { return s.WatcherCount() == 0 }, time.Second, 10*time.Millisecond)
}

func newTickets(t *testing.T) (*Tickets, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	tk := NewTickets(s, logger.NewTestLogger(t))
	tk.now = func() time.Time { return base }
	return tk, s
}

func TestTickets_Bootstrap(t *testing.T) {
	ctx := context.Background()
	tk, s := newTickets(t)
	id, err := s.Add(ctx, models.CollectionTickets, models.Ticket{
		ClientID:         "000001",
		IssueDescription: "the heater is broken",
		Status:           models.TicketStatusOpen,
		ChatLog:          []models.TicketEntry{},
	})
	require.NoError(t, err)

	ticket, err := tk.OpenForClient(ctx, "000001")
	require.NoError(t, err)
	assert.Equal(t, id, ticket.ID)
	require.Len(t, ticket.ChatLog, 1)
	assert.Equal(t, models.TicketEntry{Message: "the heater is broken", Timestamp: base, Sender: "000001"}, ticket.ChatLog[0])

	again, err := tk.OpenForClient(ctx, "000001")
	require.NoError(t, err)
	assert.Len(t, again.ChatLog, 1)

	require.NoError(t, tk.Post(ctx, id, "Ana Diaz", "any update?"))
	require.NoError(t, tk.Post(ctx, id, "Ana Diaz", " "))
	stored, err := tk.get(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored.ChatLog, 2)
	assert.Equal(t, "any update?", stored.ChatLog[1].Message)
}

func TestTickets_EmptyDescriptionWaitsForDescribe(t *testing.T) {
	ctx := context.Background()
	tk, s := newTickets(t)
	id, err := s.Add(ctx, models.CollectionTickets, models.Ticket{ClientID: "000001", Status: models.TicketStatusOpen})
	require.NoError(t, err)

	ticket, err := tk.OpenForClient(ctx, "000001")
	require.NoError(t, err)
	assert.Empty(t, ticket.ChatLog)

	require.NoError(t, tk.Describe(ctx, id, "missing payment"))
	ticket, err = tk.OpenForClient(ctx, "000001")
	require.NoError(t, err)
	require.Len(t, ticket.ChatLog, 1)
	assert.Equal(t, "missing payment", ticket.ChatLog[0].Message)
}

func TestTickets_Close(t *testing.T) {
	ctx := context.Background()
	tk, s := newTickets(t)
	id, err := s.Add(ctx, models.CollectionTickets, models.Ticket{ClientID: "000001", Status: models.TicketStatusOpen})
	require.NoError(t, err)

	require.NoError(t, tk.Close(ctx, id))
	require.NoError(t, tk.Close(ctx, id))

	_, err = tk.OpenForClient(ctx, "000001")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound))
	assert.True(t, apperrors.HasCode(tk.Post(ctx, id, "Ana", "hello"), apperrors.ErrCodeValidationFailed))
	assert.True(t, apperrors.HasCode(tk.Close(ctx, "nope"), apperrors.ErrCodeResourceNotFound))
}
