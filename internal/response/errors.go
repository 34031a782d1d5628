package response

import (
	"errors"
	"net/http"

	"github.com/stemsi/mocktest-backend/internal/service"
	"github.com/stemsi/mocktest-backend/internal/session"
)

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrAuthExpired   ErrCode = "AUTH_EXPIRED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrUnknownCommand ErrCode = "UNKNOWN_COMMAND"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound      ErrCode = "NOT_FOUND"
	ErrTestNotFound  ErrCode = "TEST_NOT_FOUND"
	ErrDataIntegrity ErrCode = "DATA_INTEGRITY"

	// ─── Session ───────────────────────────────────────────────────────
	ErrJoinWindowClosed ErrCode = "JOIN_WINDOW_CLOSED"
	ErrSessionClosed    ErrCode = "SESSION_CLOSED"
	ErrForcedExit       ErrCode = "FORCED_EXIT"
	ErrTemporary        ErrCode = "TEMPORARY_FAILURE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrAuthExpired:
		return "Your sign-in has expired. Please sign in again."

	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidPayload:
		return "Request payload is invalid."
	case ErrUnknownCommand:
		return "Unknown command."

	case ErrNotFound:
		return "Resource not found."
	case ErrTestNotFound:
		return "This test does not exist."
	case ErrDataIntegrity:
		return "Test content is incomplete. Please contact the organizer."

	case ErrJoinWindowClosed:
		return "Entry to this test has closed."
	case ErrSessionClosed:
		return "This session has ended."
	case ErrForcedExit:
		return "The test was ended because of repeated violations."
	case ErrTemporary:
		return "A temporary problem occurred. Please try again."

	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}

// FromError maps a session error onto an HTTP status and error code.
func FromError(err error) (int, ErrCode) {
	switch {
	case errors.Is(err, service.ErrTestNotFound):
		return http.StatusNotFound, ErrTestNotFound
	case errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized, ErrTokenInvalid
	case errors.Is(err, session.ErrJoinWindowClosed):
		return http.StatusForbidden, ErrJoinWindowClosed
	case errors.Is(err, session.ErrDataIntegrity):
		return http.StatusUnprocessableEntity, ErrDataIntegrity
	case errors.Is(err, session.ErrAuthExpired):
		return http.StatusUnauthorized, ErrAuthExpired
	case errors.Is(err, session.ErrProctoringViolation):
		return http.StatusForbidden, ErrForcedExit
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone, ErrSessionClosed
	case errors.Is(err, session.ErrTransient):
		return http.StatusServiceUnavailable, ErrTemporary
	default:
		return http.StatusInternalServerError, ErrInternal
	}
}
