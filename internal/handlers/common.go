package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"support-agent/internal/models"
	"support-agent/internal/repositories"
)

// ErrorResponse is the standard error body for all API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// BasicResponse is a minimal status body for simple endpoints
type BasicResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	_ = writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Status:  status,
	})
}

// domainErrorMessage maps err to its HTTP status and user-facing message.
// Typed domain errors keep their text; internal faults get a generic
// message so backend detail never reaches the end user.
func domainErrorMessage(err error) (int, string) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		return status, "An internal error occurred"
	}
	return status, err.Error()
}

func sendDomainError(w http.ResponseWriter, err error) {
	status, message := domainErrorMessage(err)
	writeError(w, status, message)
}

// statusForError maps domain errors to HTTP status codes. Unrecognized
// errors are internal faults.
func statusForError(err error) int {
	var (
		validation  *models.ValidationError
		busy        *models.SessionBusyError
		escalated   *models.SessionEscalatedError
		unavailable *models.RetrievalUnavailableError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &busy):
		return http.StatusTooManyRequests
	case errors.As(err, &escalated):
		return http.StatusConflict
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case repositories.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
