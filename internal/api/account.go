package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"case-portal/internal/clients"

	"github.com/go-chi/chi/v5"
)

type sessionResponse struct {
	ClientID string `json:"clientId"`
	FullName string `json:"fullName"`
	LastPath string `json:"lastPath"`
}

type pathRequest struct {
	Path string `json:"path" validate:"required,startswith=/"`
}

// handleSignup accepts the registration as a JSON body, or as multipart with
// a "registration" JSON field and an optional "photo" file.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	uid := uidFrom(r)
	if uid == "" {
		Error(w, http.StatusUnauthorized, "missing "+UIDHeader)
		return
	}

	var reg clients.Registration
	var photo *clients.Photo
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			Error(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		if err := json.Unmarshal([]byte(r.FormValue("registration")), &reg); err != nil {
			Error(w, http.StatusBadRequest, "invalid registration field")
			return
		}
		if file, header, err := r.FormFile("photo"); err == nil {
			defer file.Close()
			photo = &clients.Photo{Body: file, Size: header.Size, ContentType: header.Header.Get("Content-Type")}
		}
	} else if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	client, err := s.deps.Clients.Register(r.Context(), uid, reg, photo)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, client)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	uid := uidFrom(r)
	if uid == "" {
		Error(w, http.StatusUnauthorized, "missing "+UIDHeader)
		return
	}
	client, err := s.deps.Clients.ByUID(r.Context(), uid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.deps.Sessions.Open(uid, client.ClientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sessionResponse{ClientID: client.ClientID, FullName: client.FullName, LastPath: sess.LastPath()})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.deps.Sessions.Close(sessionFrom(r.Context()).UID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetLastPath(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"path": sessionFrom(r.Context()).LastPath()})
}

func (s *Server) handleSetLastPath(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !s.decode(w, r, &req) {
		return
	}
	sessionFrom(r.Context()).SetLastPath(req.Path)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	client, err := s.deps.Clients.ByClientID(r.Context(), sessionFrom(r.Context()).ClientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, client)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.deps.Clients.AgentByDisplayName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, agent)
}
