// Package api provides HTTP API handlers for the Crewgate API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/crewgate/crewgate/internal/accred"
	"github.com/crewgate/crewgate/internal/event"
	"github.com/crewgate/crewgate/internal/middleware"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeAuthFailed indicates authentication failure.
	ErrCodeAuthFailed = "auth_failed"

	// ErrCodeForbidden indicates the actor's role does not permit the operation.
	ErrCodeForbidden = "forbidden"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeInvalidTransition indicates the requested lifecycle action is
	// not legal from the credential's current status.
	ErrCodeInvalidTransition = "invalid_transition"

	// ErrCodeConflict indicates a concurrent modification was detected.
	ErrCodeConflict = "conflict"

	// ErrCodeRateLimited indicates rate limit exceeded.
	ErrCodeRateLimited = "rate_limited"

	// ErrCodeUnavailable indicates a transient backend failure; safe to retry.
	ErrCodeUnavailable = "service_unavailable"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response and publishes the
// code for the logging middleware.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.SetErrorCode(ctx, code)

	errResp := ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}

	data, err := json.Marshal(errResp)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// WriteDomainError maps a lifecycle or verification error to its HTTP
// representation. Used by every handler that calls into the services so the
// error taxonomy maps to wire codes in exactly one place.
func WriteDomainError(w http.ResponseWriter, ctx context.Context, err error) {
	var it *accred.InvalidTransitionError
	var ve *accred.ValidationError
	var te *accred.TransientError

	switch {
	case errors.Is(err, accred.ErrNotFound), errors.Is(err, event.ErrEventNotFound):
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, accred.ErrUnauthorized):
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "actor is not authorized for this operation")
	case errors.Is(err, accred.ErrConflict):
		WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "the credential was modified concurrently; reload and retry")
	case errors.As(err, &it):
		WriteError(w, ctx, http.StatusConflict, ErrCodeInvalidTransition, it.Error())
	case errors.As(err, &ve):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, ve.Error())
	case errors.As(err, &te):
		WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeUnavailable, "temporary storage failure, retry shortly")
	default:
		slog.ErrorContext(ctx, "unhandled service error", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
