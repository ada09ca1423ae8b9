// Package api provides HTTP handlers for the chat API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/leo-pe2/ai-chat-main/internal/auth"
	"github.com/leo-pe2/ai-chat-main/internal/chats"
	"github.com/leo-pe2/ai-chat-main/internal/gateway"
	"github.com/leo-pe2/ai-chat-main/internal/session"
	"github.com/leo-pe2/ai-chat-main/internal/shared"
	"github.com/leo-pe2/ai-chat-main/internal/store"
)

// maxBodyBytes caps request bodies. Chat content travels whole, so this is
// generous.
const maxBodyBytes = 4 << 20

// Middleware wraps an http.Handler.
type Middleware = func(http.Handler) http.Handler

// Handler provides common handler utilities.
type Handler struct {
	exposeDetails bool
	logger        *slog.Logger
}

// NewHandler creates a new Handler. With exposeDetails, 502 responses carry
// the upstream cause.
func NewHandler(exposeDetails bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{exposeDetails: exposeDetails, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON request body into v.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// fail maps a service error onto a status code and writes it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ce *gateway.ClientError
		ue *gateway.UpstreamError
	)
	switch {
	case errors.As(err, &ce):
		Error(w, http.StatusBadRequest, ce.Message)
	case errors.As(err, &ue):
		body := map[string]string{"error": gateway.GenericFailure}
		if h.exposeDetails {
			if details := ue.Details(); details != "" {
				body["details"] = details
			}
		}
		JSON(w, http.StatusBadGateway, body)
	case errors.Is(err, chats.ErrEmptyMessage),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidCode),
		errors.Is(err, auth.ErrChallengeNotFound),
		errors.Is(err, auth.ErrChallengeExpired),
		errors.Is(err, auth.ErrChallengeConsumed),
		errors.Is(err, auth.ErrTooManyAttempts):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrSessionNotFound),
		errors.Is(err, session.ErrUnauthenticated):
		Error(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, session.ErrMFARequired):
		Error(w, http.StatusForbidden, "mfa_required")
	case errors.Is(err, chats.ErrNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, auth.ErrFactorNotFound):
		Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrEmailTaken):
		Error(w, http.StatusConflict, err.Error())
	case shared.IsConflictError(err):
		Error(w, http.StatusConflict, "conflicting update, please retry")
	default:
		h.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		Error(w, http.StatusInternalServerError, "internal server error")
	}
}
