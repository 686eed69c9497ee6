package api

import (
	"net/http"
	"strconv"
	"time"

	"case-portal/internal/catalog"
	"case-portal/internal/lifecycle"
	"case-portal/internal/models"

	"github.com/go-chi/chi/v5"
)

type applicationResponse struct {
	ID                 string                   `json:"id"`
	Status             lifecycle.Status         `json:"status"`
	DisplayStatus      string                   `json:"displayStatus"`
	StatusMessage      string                   `json:"statusMessage"`
	ReviewAgentID      string                   `json:"reviewAgentId"`
	Program            *models.Program          `json:"program,omitempty"`
	ScreeningAvailable bool                     `json:"screeningAvailable"`
	UploadsEnabled     bool                     `json:"uploadsEnabled"`
	CanAcknowledge     bool                     `json:"canAcknowledge"`
	CanRaiseIssue      bool                     `json:"canRaiseIssue"`
	ContactBackEnabled bool                     `json:"contactBackEnabled"`
	ContactSlots       []time.Time              `json:"contactSlots"`
	ReceivedServices   []string                 `json:"receivedServices,omitempty"`
	Documents          map[string][]string      `json:"documents"`
	AgentComments      []string                 `json:"agentComments"`
	Screening          []models.ScreeningAnswer `json:"screening,omitempty"`
	Summary            string                   `json:"summary"`
}

func newApplicationResponse(d *lifecycle.Detail) applicationResponse {
	app := d.Application
	return applicationResponse{
		ID:                 app.ID,
		Status:             d.Status,
		DisplayStatus:      catalog.DisplayStatus(d.Status, app.AgentContactBack.Timestamps, app.UploadedDocumentsPath),
		StatusMessage:      catalog.StatusMessage(d.Status),
		ReviewAgentID:      d.ReviewAgentID,
		Program:            d.Program,
		ScreeningAvailable: d.ScreeningAvailable,
		UploadsEnabled:     d.UploadsEnabled,
		CanAcknowledge:     d.CanAcknowledge,
		CanRaiseIssue:      d.CanRaiseIssue,
		ContactBackEnabled: d.ContactBackEnabled,
		ContactSlots:       d.ContactSlots,
		ReceivedServices:   d.ReceivedServices,
		Documents:          app.UploadedDocumentsPath,
		AgentComments:      app.AutoFilledFormData.AgentComment,
		Screening:          app.FormScreeningData,
		Summary:            app.ApplicationSummary,
	}
}

type textRequest struct {
	Text string `json:"text" validate:"required"`
}

type answerRequest struct {
	Answer          string `json:"answer"`
	AudioURL        string `json:"audio_url"`
	TranscribedText string `json:"transcribed_text"`
}

type screeningRequest struct {
	Answers []models.ScreeningAnswer `json:"answers" validate:"required,min=1"`
}

type slotRequest struct {
	At time.Time `json:"at" validate:"required"`
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.deps.Services.Services(r.Context(), sessionFrom(r.Context()).ClientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, services)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := s.deps.Engine.Submit(r.Context(), sessionFrom(r.Context()).ClientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleApplication(w http.ResponseWriter, r *http.Request) {
	detail, err := s.deps.Engine.Load(r.Context(), chi.URLParam(r, "appID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, newApplicationResponse(detail))
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Engine.RespondToComment(r.Context(), chi.URLParam(r, "appID"), req.Text); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUploadDocument expects multipart fields "name" and "file".
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	appID := chi.URLParam(r, "appID")
	req := lifecycle.UploadRequest{DisplayName: r.FormValue("name")}
	if file, header, err := r.FormFile("file"); err == nil {
		defer file.Close()
		req.Body = file
		req.FileName = header.Filename
		req.Size = header.Size
		req.ContentType = header.Header.Get("Content-Type")
		req.Progress = func(sent, total int64) {
			if sent == total {
				s.logger.Debug("document transferred", map[string]interface{}{
					"applicationId": appID,
					"bytes":         sent,
				})
			}
		}
	}

	doc, err := s.deps.Engine.UploadDocument(r.Context(), appID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]string{
		"key":  doc.Key,
		"name": doc.DisplayName,
		"url":  doc.URL,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Engine.DeleteDocument(r.Context(), chi.URLParam(r, "appID"), chi.URLParam(r, "key")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	ack, err := s.deps.Engine.AcknowledgeReceipt(r.Context(), chi.URLParam(r, "appID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"confirmForMs": ack.ConfirmFor.Milliseconds(),
		"redirectTo":   ack.RedirectTo,
	})
}

func (s *Server) handleRaiseIssue(w http.ResponseWriter, r *http.Request) {
	ticketID, err := s.deps.Engine.RaiseIssue(r.Context(), chi.URLParam(r, "appID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"ticketId": ticketID})
}

func (s *Server) handleAnswerQuestion(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		Error(w, http.StatusBadRequest, "question index must be a number")
		return
	}
	var req answerRequest
	if !s.decode(w, r, &req) {
		return
	}
	answer := models.ScreeningAnswer{Answer: req.Answer, AudioURL: req.AudioURL, TranscribedText: req.TranscribedText}
	if err := s.deps.Engine.AnswerQuestion(r.Context(), chi.URLParam(r, "appID"), index, answer); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteScreening(w http.ResponseWriter, r *http.Request) {
	var req screeningRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Engine.CompleteScreening(r.Context(), chi.URLParam(r, "appID"), req.Answers); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProposeContactSlot(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if !s.decode(w, r, &req) {
		return
	}
	visitID, err := s.deps.Scheduler.ProposeContactSlot(r.Context(), chi.URLParam(r, "appID"), req.At)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"visitId": visitID})
}

func (s *Server) handleDeleteContactSlot(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		Error(w, http.StatusBadRequest, "slot index must be a number")
		return
	}
	deleted, err := s.deps.Scheduler.DeleteContactSlot(r.Context(), chi.URLParam(r, "appID"), index)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]int{"deletedVisits": deleted})
}
