package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/thetaf313/ges-comptes/internal/app"
	"github.com/thetaf313/ges-comptes/internal/domain"
)

type successEnvelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message,omitempty"`
	Data       any             `json:"data"`
	Pagination *app.Pagination `json:"pagination,omitempty"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"Failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any, pagination *app.Pagination) {
	writeJSON(w, status, successEnvelope{Success: true, Message: message, Data: data, Pagination: pagination})
}

func writeFailure(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message, Details: details}})
}

// statusForKind maps a domain error kind to its HTTP status.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindArchived, domain.KindConflict:
		return http.StatusConflict
	case domain.KindInvalidState, domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindDatabase:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the error envelope. Unknown errors are logged and
// reported without their internals.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	de, ok := domain.AsError(err)
	if !ok {
		logger.Error("unhandled error", "method", r.Method, "path", r.URL.Path, "error", err)
		writeFailure(w, http.StatusInternalServerError, domain.CodeInternal, "Erreur interne du serveur", nil)
		return
	}

	status := statusForKind(de.Kind)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", de.Code, "error", err)
	}
	writeFailure(w, status, de.Code, de.Message, de.Details)
}
