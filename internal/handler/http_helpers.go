// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"pdf-workbench/internal/domain"
	apperrors "pdf-workbench/pkg/errors"
)

type contextKey string

const sessionContextKey contextKey = "session"

// SessionHeader carries the caller's session id.
const SessionHeader = "X-Session-ID"

// GetSessionFromContext extracts the session id placed by SessionMiddleware
func GetSessionFromContext(r *http.Request) (string, bool) {
	session, ok := r.Context().Value(sessionContextKey).(string)
	return session, ok && session != ""
}

// sessionFrom returns the body value when set, otherwise the request's session.
func sessionFrom(r *http.Request, bodyValue string) string {
	if v := strings.TrimSpace(bodyValue); v != "" {
		return v
	}
	session, _ := GetSessionFromContext(r)
	return session
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type errorResponse struct {
	Error   string `json:"error"`
	Type    string `json:"type"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// writeAppError renders a service error. Causes are logged, never returned to clients.
func writeAppError(w http.ResponseWriter, logger domain.Logger, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.NewInternalError("internal server error", err)
	}

	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.Error("Request failed", err, "type", appErr.Type, "details", appErr.Details)
	}

	writeJSON(w, appErr.StatusCode, errorResponse{
		Error:   appErr.Message,
		Type:    string(appErr.Type),
		Field:   appErr.Field,
		Details: appErr.Details,
	})
}
