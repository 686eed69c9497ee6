// Package catalog projects raw application state into the labels shown in
// the client's service list and detail view.
package catalog

import (
	"context"
	"sort"
	"time"

	"case-portal/internal/lifecycle"
	"case-portal/internal/models"
	"case-portal/internal/store"
)

const (
	LabelInProgress          = "In-progress"
	LabelActionRequired      = "Action Required"
	LabelApplicationApproved = "Application Approved"
	LabelRejected            = "Action required"
	LabelReceived            = "Received"
	LabelServiceApproved     = "Service Approved"
	LabelUnknown             = "Unknown"
)

var labels = map[lifecycle.Status]string{
	lifecycle.StatusSubmitted:             LabelInProgress,
	lifecycle.StatusRequestDocs:           LabelActionRequired,
	lifecycle.StatusRequestAdditionalDocs: LabelActionRequired,
	lifecycle.StatusServiceSubmitted:      LabelApplicationApproved,
	lifecycle.StatusRejected:              LabelRejected,
	lifecycle.StatusServiceReceived:       LabelReceived,
	lifecycle.StatusApproved:              LabelServiceApproved,
}

// DisplayStatus derives the list label. Pending contact-back slots win over
// everything else, then submitted documents on a docs request, then the
// fixed per-status label.
func DisplayStatus(status lifecycle.Status, timestamps []models.ContactBackEntry, docs map[string][]string) string {
	if len(timestamps) > 0 {
		return LabelInProgress
	}
	if status.IsDocsRequest() && len(docs) > 0 {
		return LabelInProgress
	}
	if label, ok := labels[status]; ok {
		return label
	}
	return LabelUnknown
}

var messages = map[lifecycle.Status]string{
	lifecycle.StatusSubmitted:             "Waiting for agent review",
	lifecycle.StatusRequestDocs:           "Documents requested",
	lifecycle.StatusRequestAdditionalDocs: "Documents requested",
	lifecycle.StatusApproved:              "Service matching in-progress",
	lifecycle.StatusServiceSubmitted:      "Service approved",
	lifecycle.StatusRejected:              "Please put in your available slot for agent to contact you back",
	lifecycle.StatusServiceReceived:       "Service has been received",
	lifecycle.StatusProgramApproved:       "Program approved",
}

// StatusMessage is the sentence shown on the detail view.
func StatusMessage(status lifecycle.Status) string {
	if msg, ok := messages[status]; ok {
		return msg
	}
	return "Unknown status"
}

type Service struct {
	ApplicationID string
	Status        lifecycle.Status
	DisplayStatus string
	ProgramName   string
	Summary       string
	CreatedAt     time.Time
}

func project(doc *store.Document) (Service, error) {
	var app models.Application
	if err := doc.Decode(&app); err != nil {
		return Service{}, err
	}
	status := lifecycle.Status(app.AutoFilledFormData.Status)
	svc := Service{
		ApplicationID: doc.ID,
		Status:        status,
		DisplayStatus: DisplayStatus(status, app.AgentContactBack.Timestamps, app.UploadedDocumentsPath),
		ProgramName:   app.AutoFilledFormData.FinalProgramName,
		Summary:       app.ApplicationSummary,
		CreatedAt:     app.AutoFilledFormData.CreatedAt,
	}
	return svc, nil
}

// View lists the services of one client.
type View struct {
	store store.Store
}

func NewView(s store.Store) *View {
	return &View{store: s}
}

func (v *View) query(clientID string) store.Query {
	return store.Query{
		Collection: models.CollectionApplications,
		Filters:    []store.Filter{store.Eq(models.FieldClientID, clientID)},
	}
}

func (v *View) Services(ctx context.Context, clientID string) ([]Service, error) {
	docs, err := v.store.Query(ctx, v.query(clientID))
	if err != nil {
		return nil, err
	}
	return projectAll(docs)
}

// WatchServices emits the service list again after every change to the
// client's applications, until ctx is done.
func (v *View) WatchServices(ctx context.Context, clientID string) (<-chan []Service, <-chan error, error) {
	snaps, err := v.store.WatchQuery(ctx, v.query(clientID))
	if err != nil {
		return nil, nil, err
	}

	out := make(chan []Service)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for snap := range snaps {
			list, err := projectAll(snap.Documents)
			if snap.Err != nil {
				err = snap.Err
			}
			if err != nil {
				select {
				case errs <- err:
				default:
				}
				continue
			}
			select {
			case out <- list:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errs, nil
}

// projectAll keeps applications that do not decode in the list, labelled
// Unknown, so one malformed record never hides the client's other services.
func projectAll(docs []*store.Document) ([]Service, error) {
	out := make([]Service, 0, len(docs))
	for _, doc := range docs {
		svc, err := project(doc)
		if err != nil {
			svc = Service{ApplicationID: doc.ID, DisplayStatus: LabelUnknown}
		}
		out = append(out, svc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
