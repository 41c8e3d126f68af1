package operations

import (
	"errors"
	"fmt"
)

// ErrorType classifies a pass error for API mapping and logging.
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeExecution    ErrorType = "execution"
	ErrorTypeCancellation ErrorType = "cancellation"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeInvalidState ErrorType = "invalid_state"
	ErrorTypePanic        ErrorType = "panic"
)

// PassError is a pass-specific error carrying the stage it originated
// from and its classification.
type PassError struct {
	Type    ErrorType `json:"type"`
	Stage   string    `json:"stage,omitempty"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *PassError) Error() string {
	if e == nil {
		return "unknown pass error"
	}
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Type, e.Stage, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *PassError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewValidationError reports a malformed pass request.
func NewValidationError(message string) *PassError {
	return &PassError{Type: ErrorTypeValidation, Message: message}
}

// NewStageError reports a stage that aborted.
func NewStageError(stage string, cause error) *PassError {
	return &PassError{
		Type:    ErrorTypeExecution,
		Stage:   stage,
		Message: "stage aborted",
		Cause:   cause,
	}
}

// NewCancellationError reports a pass interrupted before the given
// stage ran.
func NewCancellationError(stage string) *PassError {
	return &PassError{
		Type:    ErrorTypeCancellation,
		Stage:   stage,
		Message: "pass cancelled",
	}
}

// NewPanicError reports a stage that panicked. The pass survives; the
// stage is recorded as failed.
func NewPanicError(stage string, recovered any) *PassError {
	return &PassError{
		Type:    ErrorTypePanic,
		Stage:   stage,
		Message: fmt.Sprintf("stage panicked: %v", recovered),
	}
}

// ErrorTypeOf returns the classification of err, defaulting unknown
// errors to execution.
func ErrorTypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var pe *PassError
	if errors.As(err, &pe) {
		return pe.Type
	}
	return ErrorTypeExecution
}

// Common pass errors.
var (
	// ErrPassNotFound is returned when a pass ID is unknown.
	ErrPassNotFound = &PassError{Type: ErrorTypeNotFound, Message: "pass not found"}

	// ErrPassInProgress is returned when a pass is requested while
	// another pass holds the store.
	ErrPassInProgress = &PassError{Type: ErrorTypeInvalidState, Message: "another pass is already running"}

	// ErrUnknownStage is returned when a requested stage ID is not
	// registered.
	ErrUnknownStage = &PassError{Type: ErrorTypeNotFound, Message: "unknown stage"}
)
