package api

import (
	"context"
	"net/http"
	"time"

	"case-portal/internal/models"
	"case-portal/internal/scheduling"

	"github.com/go-chi/chi/v5"
)

const dayLayout = "2006-01-02"

type visitResponse struct {
	ID string `json:"id"`
	models.Visit
}

// handleListVisits lists the client's visits newest first, or only those on
// ?date=YYYY-MM-DD.
func (s *Server) handleListVisits(w http.ResponseWriter, r *http.Request) {
	clientID := sessionFrom(r.Context()).ClientID
	var visits []models.Visit
	var err error
	if day := r.URL.Query().Get("date"); day != "" {
		parsed, perr := time.Parse(dayLayout, day)
		if perr != nil {
			Error(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		visits, err = s.deps.Scheduler.VisitsOn(r.Context(), clientID, parsed)
	} else {
		visits, err = s.deps.Scheduler.ListVisits(r.Context(), clientID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]visitResponse, 0, len(visits))
	for _, v := range visits {
		out = append(out, visitResponse{ID: v.ID, Visit: v})
	}
	JSON(w, http.StatusOK, out)
}

func (s *Server) handleProposeAppointment(w http.ResponseWriter, r *http.Request) {
	var req scheduling.AppointmentRequest
	if !s.decode(w, r, &req) {
		return
	}
	visitID, err := s.deps.Scheduler.ProposeAppointment(r.Context(), sessionFrom(r.Context()).ClientID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"visitId": visitID})
}

// handleVisitTransition runs op on a visit of the signed-in client.
func (s *Server) handleVisitTransition(op func(ctx context.Context, clientID, visitID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := sessionFrom(r.Context()).ClientID
		if err := op(r.Context(), clientID, chi.URLParam(r, "visitID")); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
