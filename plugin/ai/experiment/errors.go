package experiment

import (
	"errors"
	"fmt"
)

var (
	// ErrExperimentNotFound indicates the experiment does not exist.
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrTemplateNotFound indicates a referenced template does not exist.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrInvalidTransition indicates the experiment is not in a state the
	// requested transition starts from.
	ErrInvalidTransition = errors.New("invalid experiment transition")

	// ErrTemplateBusy indicates a template is already under an active experiment.
	ErrTemplateBusy = errors.New("template already under an active experiment")

	// ErrUnknownFormat indicates no exporter is registered for a format.
	ErrUnknownFormat = errors.New("unknown export format")
)

// ErrorCode classifies lifecycle failures.
type ErrorCode string

const (
	// ErrCodeValidation indicates a request failed validation.
	ErrCodeValidation ErrorCode = "VALIDATION"
	// ErrCodeNotFound indicates a referenced record does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeInvalidTransition indicates a transition from the wrong state.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	// ErrCodeOperation indicates a storage or infrastructure failure.
	ErrCodeOperation ErrorCode = "OPERATION"
)

// Error is a structured lifecycle error.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func notFound(id int32) *Error {
	return (&Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("experiment %d", id),
		Cause:   ErrExperimentNotFound,
	}).WithContext("experiment_id", id)
}

func invalidTransition(id int32, cause error) *Error {
	return (&Error{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("experiment %d", id),
		Cause:   fmt.Errorf("%w: %v", ErrInvalidTransition, cause),
	}).WithContext("experiment_id", id)
}

func operation(msg string, cause error) *Error {
	return &Error{Code: ErrCodeOperation, Message: msg, Cause: cause}
}

// IsCode checks if an error is a lifecycle error of a specific code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
