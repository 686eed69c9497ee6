package lifecycle

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	apperrors "case-portal/internal/common/errors"
	"case-portal/internal/common/logger"
	"case-portal/internal/models"
	"case-portal/internal/programs"
	"case-portal/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)

type fakeClients map[string]*models.Client

func (f fakeClients) ByClientID(_ context.Context, clientID string) (*models.Client, error) {
	c, ok := f[clientID]
	if !ok {
		return nil, apperrors.NewResourceNotFoundError("client", clientID)
	}
	return c, nil
}

type countingBlobs struct {
	store.BlobStore
	uploads int
	fail    error
}

func (c *countingBlobs) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string, progress store.ProgressFunc) error {
	c.uploads++
	if c.fail != nil {
		return c.fail
	}
	return c.BlobStore.Upload(ctx, key, body, size, contentType, progress)
}

type fixture struct {
	engine *Engine
	store  *store.MemoryStore
	blobs  *countingBlobs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	blobs := &countingBlobs{BlobStore: store.NewMemoryBlobStore("http://blobs.local")}
	clients := fakeClients{"000001": {ClientID: "000001", FullName: "Ana Diaz", AssignedAgentID: "agent-7"}}
	engine := NewEngine(s, blobs, programs.NewStoreCatalog(s), clients, logger.NewTestLogger(t), Options{
		Now: func() time.Time { return fixedNow },
	})
	return &fixture{engine: engine, store: s, blobs: blobs}
}

func (f *fixture) seed(t *testing.T, id string, status Status, mutate func(*models.Application)) {
	t.Helper()
	app := models.Application{
		AutoFilledFormData:    models.FormData{ClientID: "000001", Status: string(status)},
		UploadedDocumentsPath: map[string][]string{},
	}
	if mutate != nil {
		mutate(&app)
	}
	require.NoError(t, f.store.Set(context.Background(), models.CollectionApplications, id, app))
}

func (f *fixture) app(t *testing.T, id string) models.Application {
	t.Helper()
	doc, err := f.store.Get(context.Background(), models.CollectionApplications, id)
	require.NoError(t, err)
	var app models.Application
	require.NoError(t, doc.Decode(&app))
	return app
}

func TestNextApplicationID(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		want     string
	}{
		{"first application", nil, "000001_1"},
		{"after gap", []string{"000001_1", "000001_4"}, "000001_5"},
		{"other clients ignored", []string{"000002_9", "0000011_3"}, "000001_1"},
		{"malformed suffix ignored", []string{"000001_x", "000001_2"}, "000001_3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextApplicationID("000001", tt.existing))
		})
	}
}

func TestNextDocumentKey(t *testing.T) {
	tests := []struct {
		name string
		docs map[string][]string
		want string
	}{
		{"empty map", map[string][]string{}, "doc_1"},
		{"nil map", nil, "doc_1"},
		{"gap from deletion", map[string][]string{"doc_1": nil, "doc_4": nil}, "doc_5"},
		{"double digit", map[string][]string{"doc_9": nil, "doc_10": nil}, "doc_11"},
		{"foreign keys ignored", map[string][]string{"passport": nil, "doc_2": nil}, "doc_3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextDocumentKey(tt.docs))
		})
	}
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.Set(ctx, models.CollectionForms, FormTemplateID, map[string]interface{}{
		"form_screening_data": []interface{}{map[string]interface{}{"Question": "What do you need help with?", "Answer": ""}},
	}))
	f.seed(t, "000001_3", StatusRejected, nil)

	id, err := f.engine.Submit(ctx, "000001")
	require.NoError(t, err)
	assert.Equal(t, "000001_4", id)

	app := f.app(t, id)
	assert.Equal(t, string(StatusSubmitted), app.AutoFilledFormData.Status)
	assert.Equal(t, "000001", app.AutoFilledFormData.ClientID)
	assert.Equal(t, fixedNow, app.AutoFilledFormData.CreatedAt)
	assert.Empty(t, app.UploadedDocumentsPath)
	require.Len(t, app.FormScreeningData, 1)
	assert.Equal(t, "What do you need help with?", app.FormScreeningData[0].Question)

	_, err = f.engine.Submit(ctx, " ")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

func TestLoad_ReactsToStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.Set(ctx, models.CollectionPrograms, "Housing", models.Program{ProgramDetail: "Rent support"}))

	f.seed(t, "a_approved", StatusApproved, func(a *models.Application) { a.AutoFilledFormData.FinalProgramName = "Housing" })
	f.seed(t, "a_docs", StatusRequestAdditionalDocs, nil)
	f.seed(t, "a_submitted", StatusServiceSubmitted, nil)
	f.seed(t, "a_rejected", StatusRejected, func(a *models.Application) {
		a.AgentContactBack.Timestamps = []models.ContactBackEntry{{Timestamp: fixedNow.Add(time.Hour)}}
	})
	f.seed(t, "a_received", StatusServiceReceived, func(a *models.Application) { a.AgentServiceSubmit = []string{"Food parcel"} })

	d, err := f.engine.Load(ctx, "a_approved")
	require.NoError(t, err)
	assert.Equal(t, "agent-7", d.ReviewAgentID)
	assert.True(t, d.ScreeningAvailable)
	require.NotNil(t, d.Program)
	assert.Equal(t, "Rent support", d.Program.ProgramDetail)

	d, err = f.engine.Load(ctx, "a_docs")
	require.NoError(t, err)
	assert.True(t, d.UploadsEnabled)
	assert.False(t, d.CanAcknowledge)

	d, err = f.engine.Load(ctx, "a_submitted")
	require.NoError(t, err)
	assert.True(t, d.CanAcknowledge)
	assert.True(t, d.CanRaiseIssue)

	d, err = f.engine.Load(ctx, "a_rejected")
	require.NoError(t, err)
	assert.True(t, d.ContactBackEnabled)
	assert.Equal(t, []time.Time{fixedNow.Add(time.Hour)}, d.ContactSlots)

	d, err = f.engine.Load(ctx, "a_received")
	require.NoError(t, err)
	assert.Equal(t, []string{"Food parcel"}, d.ReceivedServices)

	_, err = f.engine.Load(ctx, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound))
}

func TestLoad_MissingProgramDegrades(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", StatusApproved, func(a *models.Application) { a.AutoFilledFormData.FinalProgramName = "Gone" })

	d, err := f.engine.Load(context.Background(), "a")
	require.NoError(t, err)
	assert.Nil(t, d.Program)
	assert.True(t, d.ScreeningAvailable)
}

func TestUploadDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "a", StatusRequestDocs, func(a *models.Application) {
		a.UploadedDocumentsPath = map[string][]string{"doc_2": {"ID", "http://x"}}
	})

	var progressed int64
	doc, err := f.engine.UploadDocument(ctx, "a", UploadRequest{
		DisplayName: "Proof of address",
		FileName:    "bill.pdf",
		ContentType: "application/pdf",
		Body:        strings.NewReader("%PDF"),
		Size:        4,
		Progress:    func(sent, _ int64) { progressed = sent },
	})
	require.NoError(t, err)
	assert.Equal(t, "doc_3", doc.Key)
	assert.Equal(t, "http://blobs.local/documents/bill.pdf", doc.URL)
	assert.Equal(t, int64(4), progressed)

	app := f.app(t, "a")
	assert.Equal(t, []string{"Proof of address", "http://blobs.local/documents/bill.pdf"}, app.UploadedDocumentsPath["doc_3"])
}

func TestUploadDocument_ValidationWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "a", StatusRequestDocs, nil)
	before := f.app(t, "a")

	_, err := f.engine.UploadDocument(ctx, "a", UploadRequest{DisplayName: "  ", FileName: "x.pdf", Body: strings.NewReader("x")})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
	assert.Zero(t, f.blobs.uploads)
	assert.Equal(t, before, f.app(t, "a"))
}

func TestUploadDocument_Refusals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "approved", StatusApproved, nil)
	f.seed(t, "docs", StatusRequestDocs, nil)

	_, err := f.engine.UploadDocument(ctx, "approved", UploadRequest{DisplayName: "ID", FileName: "id.png", Body: strings.NewReader("x")})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))

	f.blobs.fail = errors.New("bucket unavailable")
	_, err = f.engine.UploadDocument(ctx, "docs", UploadRequest{DisplayName: "ID", FileName: "id.png", Body: strings.NewReader("x")})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBlobUploadFailed))
	assert.Empty(t, f.app(t, "docs").UploadedDocumentsPath)
}

func TestDeleteDocument_IndexNotReused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "a", StatusRequestDocs, func(a *models.Application) {
		a.UploadedDocumentsPath = map[string][]string{"doc_1": {"A", "u1"}, "doc_2": {"B", "u2"}, "doc_3": {"C", "u3"}}
	})

	require.NoError(t, f.engine.DeleteDocument(ctx, "a", "doc_2"))
	app := f.app(t, "a")
	assert.NotContains(t, app.UploadedDocumentsPath, "doc_2")
	assert.Equal(t, "doc_4", NextDocumentKey(app.UploadedDocumentsPath))

	err := f.engine.DeleteDocument(ctx, "a", "doc_2")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeResourceNotFound))
}

func TestApplyAgentDecision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "a", StatusSubmitted, nil)

	require.NoError(t, f.engine.ApplyAgentDecision(ctx, "a", StatusApproved, "Housing"))
	app := f.app(t, "a")
	assert.Equal(t, "approved", app.AutoFilledFormData.Status)
	assert.Equal(t, "Housing", app.AutoFilledFormData.FinalProgramName)
	assert.Equal(t, fixedNow, app.AutoFilledFormData.UpdatedAt)

	err := f.engine.ApplyAgentDecision(ctx, "a", StatusRequestDocs, "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))

	err = f.engine.ApplyAgentDecision(ctx, "a", StatusProgramApproved, "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))

	err = f.engine.ApplyAgentDecision(ctx, "a", Status("archived"), "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))

	err = f.engine.ApplyAgentDecision(ctx, "a", StatusServiceReceived, "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))

	require.NoError(t, f.engine.ApplyAgentDecision(ctx, "a", StatusServiceSubmitted, ""))
}

func TestAcknowledgeReceipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "a", StatusServiceSubmitted, nil)

	ack, err := f.engine.AcknowledgeReceipt(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, ack.ConfirmFor)
	assert.Equal(t, "/my-service", ack.RedirectTo)
	assert.Equal(t, "service_received", f.app(t, "a").AutoFilledFormData.Status)

	_, err = f.engine.AcknowledgeReceipt(ctx, "a")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))
}

type recordingPublisher struct {
	names []string
	keys  []string
	err   error
}

func (p *recordingPublisher) PublishMessage(_ context.Context, name, correlationKey string, _ map[string]interface{}) error {
	p.names = append(p.names, name)
	p.keys = append(p.keys, correlationKey)
	return p.err
}

func TestPublisher_ClientTransitions(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	engine := NewEngine(s, store.NewMemoryBlobStore("http://blobs.local"), programs.NewStoreCatalog(s), fakeClients{},
		logger.NewTestLogger(t), Options{Publisher: pub, Now: func() time.Time { return fixedNow }})

	id, err := engine.Submit(ctx, "000001")
	require.NoError(t, err, "publish failures must not fail the transition")
	require.NoError(t, engine.ApplyAgentDecision(ctx, id, StatusApproved, "Housing"))
	require.NoError(t, engine.ApplyAgentDecision(ctx, id, StatusServiceSubmitted, ""))
	_, err = engine.AcknowledgeReceipt(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, []string{MessageApplicationSubmitted, MessageServiceReceived}, pub.names)
	assert.Equal(t, []string{id, id}, pub.keys)
}

func TestRaiseIssue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "a", StatusServiceSubmitted, nil)
	f.seed(t, "b", StatusSubmitted, nil)

	ticketID, err := f.engine.RaiseIssue(ctx, "a")
	require.NoError(t, err)

	doc, err := f.store.Get(ctx, models.CollectionTickets, ticketID)
	require.NoError(t, err)
	var ticket models.Ticket
	require.NoError(t, doc.Decode(&ticket))
	assert.Equal(t, models.TicketStatusOpen, ticket.Status)
	assert.Equal(t, "000001", ticket.ClientID)
	assert.Equal(t, "agent-7", ticket.AgentID)
	assert.Empty(t, ticket.IssueDescription)
	assert.Empty(t, ticket.ChatLog)

	_, err = f.engine.RaiseIssue(ctx, "b")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

func TestRespondToComment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "a", StatusRequestDocs, nil)

	require.NoError(t, f.engine.RespondToComment(ctx, "a", "Sent the lease"))
	require.NoError(t, f.engine.RespondToComment(ctx, "a", "Sent the lease"))
	assert.Equal(t, []string{"Sent the lease", "Sent the lease"}, f.app(t, "a").AgentComment.AgentCommentResponse)

	err := f.engine.RespondToComment(ctx, "a", "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

func TestScreening(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "a", StatusSubmitted, func(a *models.Application) {
		a.FormScreeningData = []models.ScreeningAnswer{{Question: "Need?"}, {Question: "Household size?"}}
	})

	require.NoError(t, f.engine.AnswerQuestion(ctx, "a", 1, models.ScreeningAnswer{Answer: "4"}))
	require.NoError(t, f.engine.AnswerQuestion(ctx, "a", 0, models.ScreeningAnswer{Answer: "Housing", AudioURL: "http://a"}))
	app := f.app(t, "a")
	assert.Equal(t, "Housing", app.ApplicationSummary)
	assert.Equal(t, "4", app.FormScreeningData[1].Answer)

	err := f.engine.AnswerQuestion(ctx, "a", 5, models.ScreeningAnswer{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))

	require.NoError(t, f.engine.CompleteScreening(ctx, "a", []models.ScreeningAnswer{{Question: "Need?", Answer: "Food"}}))
	assert.Equal(t, "Food", f.app(t, "a").ApplicationSummary)
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusRequestDocs.IsDocsRequest())
	assert.True(t, StatusRequestAdditionalDocs.IsDocsRequest())
	assert.False(t, StatusApproved.IsDocsRequest())
	assert.True(t, StatusServiceReceived.IsTerminal())
	assert.False(t, StatusProgramApproved.IsValid())
	assert.True(t, StatusProgramApproved.IsKnown())
	assert.False(t, Status("").IsKnown())
	assert.True(t, StatusSubmitted.CanTransitionTo(StatusRejected))
	assert.False(t, StatusServiceReceived.CanTransitionTo(StatusSubmitted))
}
