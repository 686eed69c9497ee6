package api

import (
	"encoding/json"
	"net/http"

	apperrors "case-portal/internal/common/errors"
)

type errorBody struct {
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
	Details     string `json:"details,omitempty"`
	Compensated *bool  `json:"compensated,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, errorBody{Error: message})
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidationFailed, apperrors.ErrCodePayloadInvalid:
		return http.StatusBadRequest
	case apperrors.ErrCodeResourceNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeInvalidTransition:
		return http.StatusConflict
	case apperrors.ErrCodeExternalService, apperrors.ErrCodeBlobUploadFailed, apperrors.ErrCodeNotificationSendFailed:
		return http.StatusBadGateway
	case apperrors.ErrCodeStoreOperationFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps an operation error onto an HTTP response. Unknown errors
// are logged and hidden from the caller.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	stdErr, ok := apperrors.AsStandard(err)
	if !ok {
		s.logger.Error("unhandled error", map[string]interface{}{
			"path":  r.URL.Path,
			"error": err,
		})
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	body := errorBody{Error: stdErr.Message, Code: string(stdErr.Code), Details: stdErr.Details}
	if stdErr.Code == apperrors.ErrCodePartialFailure {
		compensated := apperrors.Compensated(err)
		body.Compensated = &compensated
	}
	status := statusFor(stdErr.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("operation failed", map[string]interface{}{
			"path":      r.URL.Path,
			"errorCode": string(stdErr.Code),
			"details":   stdErr.Details,
		})
	}
	JSON(w, status, body)
}

// decode reads a JSON body into v and runs struct validation on it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
