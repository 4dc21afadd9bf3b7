package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// Stable error codes surfaced to API and CLI callers.
const (
	CodeValidation            = "validation_error"
	CodeIncompleteGrades      = "incomplete_grades"
	CodeInvalidTransition     = "invalid_transition"
	CodePartialBatchFailure   = "partial_batch_failure"
	CodeDownstreamUnavailable = "downstream_unavailable"
	CodeNotFound              = "not_found"
	CodeNoData                = "no_data"
	CodeForbidden             = "forbidden"
	CodeInterrupted           = "interrupted"
	CodeInternal              = "internal"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrNoData                = errors.New("no data")
	ErrForbidden             = errors.New("permission denied")
	ErrIncompleteGrades      = errors.New("incomplete grades")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrDownstreamUnavailable = errors.New("downstream unavailable")
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// IncompleteGradesError withholds an aggregation instead of defaulting it.
type IncompleteGradesError struct {
	Reason string
}

func NewIncompleteGradesError(format string, args ...interface{}) error {
	return &IncompleteGradesError{Reason: fmt.Sprintf(format, args...)}
}

func (err IncompleteGradesError) Error() string {
	return "incomplete grades: " + err.Reason
}

func (err IncompleteGradesError) Unwrap() error { return ErrIncompleteGrades }

// TransitionError reports a rejected lifecycle move; the current state is left unchanged.
type TransitionError struct {
	From   string
	Action string
}

func NewTransitionError(from, action string) error {
	return &TransitionError{From: from, Action: action}
}

func (err TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s a %s bulletin", err.Action, err.From)
}

func (err TransitionError) Unwrap() error { return ErrInvalidTransition }

// DownstreamError wraps a failure of an external collaborator (renderer, dispatcher, storage).
type DownstreamError struct {
	Service string
	Err     error
}

func NewDownstreamError(service string, err error) error {
	return &DownstreamError{Service: service, Err: err}
}

func (err DownstreamError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", err.Service, err.Err)
}

func (err DownstreamError) Unwrap() error { return ErrDownstreamUnavailable }

// CodeOf maps any error to its stable code.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		return CodeValidation
	case errors.Is(err, ErrIncompleteGrades):
		return CodeIncompleteGrades
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrDownstreamUnavailable):
		return CodeDownstreamUnavailable
	case errors.Is(err, ErrNoData):
		return CodeNoData
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	}
	return CodeInternal
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
