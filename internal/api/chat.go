package api

import (
	"context"
	"net/http"

	"case-portal/internal/models"

	"github.com/go-chi/chi/v5"
)

type messageRequest struct {
	Message string `json:"message"`
}

type ticketResponse struct {
	ID               string               `json:"id"`
	IssueDescription string               `json:"issueDescription"`
	Status           string               `json:"status"`
	AgentID          string               `json:"agentId"`
	ChatLog          []models.TicketEntry `json:"chatLog"`
}

// senderName is the name shown next to the client's chat messages.
func (s *Server) senderName(ctx context.Context, clientID string) string {
	client, err := s.deps.Clients.ByClientID(ctx, clientID)
	if err != nil || client.FullName == "" {
		return clientID
	}
	return client.FullName
}

func (s *Server) handleSendChat(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !s.decode(w, r, &req) {
		return
	}
	clientID := sessionFrom(r.Context()).ClientID
	if err := s.deps.Chat.Send(r.Context(), clientID, s.senderName(r.Context(), clientID), req.Message); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Chat.MarkRead(r.Context(), sessionFrom(r.Context()).ClientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]int{"marked": n})
}

func (s *Server) handleOpenTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.deps.Tickets.OpenForClient(r.Context(), sessionFrom(r.Context()).ClientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, ticketResponse{
		ID:               ticket.ID,
		IssueDescription: ticket.IssueDescription,
		Status:           ticket.Status,
		AgentID:          ticket.AgentID,
		ChatLog:          ticket.ChatLog,
	})
}

func (s *Server) handleTicketMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.deps.Tickets.Post(r.Context(), chi.URLParam(r, "ticketID"), sessionFrom(r.Context()).ClientID, req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTicketDescription(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Tickets.Describe(r.Context(), chi.URLParam(r, "ticketID"), req.Text); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCloseTicket(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Tickets.Close(r.Context(), chi.URLParam(r, "ticketID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
