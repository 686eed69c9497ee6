package catalog

import (
	"context"
	"testing"
	"time"

	"case-portal/internal/lifecycle"
	"case-portal/internal/models"
	"case-portal/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayStatus(t *testing.T) {
	slot := []models.ContactBackEntry{{Timestamp: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}}
	docs := map[string][]string{"doc_1": {"ID", "http://u"}}

	tests := []struct {
		name       string
		status     lifecycle.Status
		timestamps []models.ContactBackEntry
		docs       map[string][]string
		want       string
	}{
		{"docs request with documents", lifecycle.StatusRequestDocs, nil, docs, "In-progress"},
		{"docs request without documents", lifecycle.StatusRequestDocs, nil, nil, "Action Required"},
		{"additional docs without documents", lifecycle.StatusRequestAdditionalDocs, nil, map[string][]string{}, "Action Required"},
		{"rejected without slots", lifecycle.StatusRejected, nil, map[string][]string{}, "Action required"},
		{"rejected with slots", lifecycle.StatusRejected, slot, nil, "In-progress"},
		{"slots win over any status", lifecycle.StatusServiceReceived, slot, nil, "In-progress"},
		{"submitted", lifecycle.StatusSubmitted, nil, nil, "In-progress"},
		{"service submitted", lifecycle.StatusServiceSubmitted, nil, nil, "Application Approved"},
		{"service received", lifecycle.StatusServiceReceived, nil, nil, "Received"},
		{"approved", lifecycle.StatusApproved, nil, docs, "Service Approved"},
		{"program approved is unlabelled", lifecycle.StatusProgramApproved, nil, nil, "Unknown"},
		{"missing status", "", nil, nil, "Unknown"},
		{"unknown status", "archived", nil, nil, "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayStatus(tt.status, tt.timestamps, tt.docs))
		})
	}
}

func TestStatusMessage(t *testing.T) {
	assert.Equal(t, "Waiting for agent review", StatusMessage(lifecycle.StatusSubmitted))
	assert.Equal(t, "Program approved", StatusMessage(lifecycle.StatusProgramApproved))
	assert.Equal(t, "Unknown status", StatusMessage("nope"))
}

func seedApp(t *testing.T, s store.Store, id, clientID string, status lifecycle.Status, created time.Time) {
	t.Helper()
	require.NoError(t, s.Set(context.Background(), models.CollectionApplications, id, models.Application{
		AutoFilledFormData: models.FormData{ClientID: clientID, Status: string(status), CreatedAt: created},
	}))
}

func TestView_Services(t *testing.T) {
	s := store.NewMemoryStore()
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seedApp(t, s, "000001_1", "000001", lifecycle.StatusServiceReceived, day)
	seedApp(t, s, "000001_2", "000001", lifecycle.StatusRejected, day.AddDate(0, 1, 0))
	seedApp(t, s, "000002_1", "000002", lifecycle.StatusSubmitted, day)

	services, err := NewView(s).Services(context.Background(), "000001")
	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.Equal(t, "000001_2", services[0].ApplicationID)
	assert.Equal(t, "Action required", services[0].DisplayStatus)
	assert.Equal(t, "Received", services[1].DisplayStatus)
}

func TestView_WatchServices(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := store.NewMemoryStore()
	seedApp(t, s, "000001_1", "000001", lifecycle.StatusSubmitted, time.Now())

	lists, _, err := NewView(s).WatchServices(ctx, "000001")
	require.NoError(t, err)
	first := <-lists
	require.Len(t, first, 1)
	assert.Equal(t, "In-progress", first[0].DisplayStatus)

	require.NoError(t, s.Update(ctx, models.CollectionApplications, "000001_1", store.Set(models.FieldStatus, "service_submitted")))
	select {
	case next := <-lists:
		assert.Equal(t, "Application Approved", next[0].DisplayStatus)
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
}

func TestView_Services_MalformedApplication(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seedApp(t, s, "000001_1", "000001", lifecycle.StatusSubmitted, day)
	seedApp(t, s, "000001_3", "000001", lifecycle.StatusApproved, day.AddDate(0, 2, 0))
	require.NoError(t, s.Set(ctx, models.CollectionApplications, "000001_2", map[string]interface{}{
		"auto_filled_form_data": map[string]interface{}{"client_id": "000001", "status": 7},
	}))

	services, err := NewView(s).Services(ctx, "000001")
	require.NoError(t, err)
	require.Len(t, services, 3)
	assert.Equal(t, "000001_3", services[0].ApplicationID)
	assert.Equal(t, LabelServiceApproved, services[0].DisplayStatus)
	assert.Equal(t, "000001_1", services[1].ApplicationID)
	assert.Equal(t, "000001_2", services[2].ApplicationID)
	assert.Equal(t, LabelUnknown, services[2].DisplayStatus)
}
