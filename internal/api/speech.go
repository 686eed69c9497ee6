package api

import (
	"net/http"
)

type translateRequest struct {
	Text           string `json:"text" validate:"required"`
	TargetLanguage string `json:"target_language" validate:"required"`
}

type speakRequest struct {
	Text     string `json:"text" validate:"required"`
	Language string `json:"language" validate:"required"`
}

type fillRequest struct {
	Question      string `json:"question" validate:"required"`
	Prompt        string `json:"prompt" validate:"required"`
	Transcription string `json:"transcription"`
}

type assistantRequest struct {
	Message string `json:"message" validate:"required"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if !s.decode(w, r, &req) {
		return
	}
	text, err := s.deps.Speech.Translate(r.Context(), req.Text, req.TargetLanguage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"translated_text": text})
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if !s.decode(w, r, &req) {
		return
	}
	url, err := s.deps.Speech.Speak(r.Context(), req.Text, req.Language)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"audio_url": url})
}

// handleTranscribe relays a multipart "file" recording and the optional
// "target_language" field.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "a recording is required")
		return
	}
	defer file.Close()

	t, err := s.deps.Speech.Transcribe(r.Context(), file, header.Filename, r.FormValue("target_language"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, t)
}

func (s *Server) handleFillForm(w http.ResponseWriter, r *http.Request) {
	var req fillRequest
	if !s.decode(w, r, &req) {
		return
	}
	form, err := s.deps.Speech.FillForm(r.Context(), req.Question, req.Prompt, req.Transcription)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, form)
}

func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request) {
	var req assistantRequest
	if !s.decode(w, r, &req) {
		return
	}
	reply, err := s.deps.Speech.Ask(r.Context(), req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"response": reply})
}
