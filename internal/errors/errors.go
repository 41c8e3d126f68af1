// Package errors defines the structured API error responses returned
// by the HTTP layer and the mapping from internal errors onto them.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"

	"circflow/internal/operations"
	"circflow/internal/store"
)

// APIError is the structured error payload of every non-2xx response.
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Render implements render.Renderer.
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates an APIError.
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates an APIError carrying extra detail.
func NewWithDetails(statusCode int, errorCode, message string, details any) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidRequest   = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrValidationFailed = New(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed")

	ErrNotFound     = New(http.StatusNotFound, "NOT_FOUND", "Resource not found")
	ErrPassNotFound = New(http.StatusNotFound, "PASS_NOT_FOUND", "Reconciliation pass not found")

	ErrPassConflict = New(http.StatusConflict, "PASS_IN_PROGRESS", "Another reconciliation pass is already running")

	ErrRateLimitExceeded = New(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")

	ErrInternalServer   = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
	ErrPassFailed       = New(http.StatusInternalServerError, "PASS_FAILED", "Reconciliation pass failed")
	ErrWebSocketUpgrade = New(http.StatusInternalServerError, "WEBSOCKET_UPGRADE_FAILED", "WebSocket upgrade failed")

	ErrServiceUnavailable = New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable")
)

// InvalidRequestWithError creates an invalid request error carrying
// the parse failure.
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
}

// ErrValidation creates a validation error for one field.
func ErrValidation(field, message string) *APIError {
	return NewWithDetails(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", ValidationError{
		Field:   field,
		Message: message,
	})
}

// NotFoundError creates a not found error naming the resource.
func NotFoundError(resource string) *APIError {
	return NewWithDetails(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource), resource)
}

// ErrPassExecution creates a pass execution error.
func ErrPassExecution(err error) *APIError {
	return NewWithDetails(http.StatusInternalServerError, "PASS_FAILED", "Reconciliation pass failed", err.Error())
}

// FromError maps internal errors onto API errors. Unknown errors stay
// opaque 500s so internals never leak to clients.
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if errors.Is(err, store.ErrNotFound) {
		return NewWithDetails(http.StatusNotFound, "NOT_FOUND", "Resource not found", err.Error())
	}

	var passErr *operations.PassError
	if errors.As(err, &passErr) {
		switch passErr.Type {
		case operations.ErrorTypeValidation:
			return NewWithDetails(http.StatusBadRequest, "VALIDATION_FAILED", passErr.Message, passErr.Error())
		case operations.ErrorTypeNotFound:
			return NewWithDetails(http.StatusNotFound, "PASS_NOT_FOUND", passErr.Message, passErr.Error())
		case operations.ErrorTypeInvalidState:
			return NewWithDetails(http.StatusConflict, "PASS_IN_PROGRESS", passErr.Message, passErr.Error())
		case operations.ErrorTypeCancellation:
			return NewWithDetails(http.StatusConflict, "PASS_CANCELLED", passErr.Message, passErr.Error())
		default:
			return ErrPassExecution(passErr)
		}
	}

	return ErrInternalServer
}

// ErrorResponse is the JSON envelope of an error response.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error"`
}

// NewErrorResponse wraps an APIError in the response envelope.
func NewErrorResponse(err *APIError) *ErrorResponse {
	return &ErrorResponse{Success: false, Error: err}
}

// Render implements render.Renderer.
func (e *ErrorResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return e.Error.Render(w, r)
}

// WriteError writes an error response without going through render,
// for use outside chi handlers.
func WriteError(w http.ResponseWriter, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	json.NewEncoder(w).Encode(NewErrorResponse(err))
}
