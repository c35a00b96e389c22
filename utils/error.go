package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorKind is the machine-readable classification carried by every error the
// core hands back to the HTTP shell or to admin tooling.
type ErrorKind string

const (
	ErrorKindValidation           ErrorKind = "validation"
	ErrorKindNotFound             ErrorKind = "not_found"
	ErrorKindConflict             ErrorKind = "conflict"
	ErrorKindInsufficientCapacity ErrorKind = "insufficient_capacity"
	ErrorKindRail                 ErrorKind = "rail"
	ErrorKindIntegrity            ErrorKind = "integrity"
)

type AppError struct {
	Kind    ErrorKind
	Message string
	// Transient marks rail errors that are safe to retry (timeouts, 5xx).
	Transient bool
	// IncidentId is attached to integrity errors so support can correlate.
	IncidentId string
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewValidationError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: ErrorKindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: ErrorKindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewConflictError reports a state-machine precondition failure. The caller
// must not have mutated anything before returning it.
func NewConflictError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: ErrorKindConflict, Message: fmt.Sprintf(format, args...)}
}

func NewCapacityError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: ErrorKindInsufficientCapacity, Message: fmt.Sprintf(format, args...)}
}

func NewRailError(transient bool, err error, format string, args ...interface{}) *AppError {
	return &AppError{Kind: ErrorKindRail, Message: fmt.Sprintf(format, args...), Transient: transient, Err: err}
}

func NewIntegrityError(incidentId string, format string, args ...interface{}) *AppError {
	return &AppError{Kind: ErrorKindIntegrity, Message: fmt.Sprintf(format, args...), IncidentId: incidentId}
}

// KindOf classifies any error. Unclassified errors and gorm errors map to
// integrity since they indicate something the caller cannot repair.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, ErrorRecordNotFound) {
		return ErrorKindNotFound
	}
	return ErrorKindIntegrity
}

func IsConflict(err error) bool {
	return KindOf(err) == ErrorKindConflict
}

func IsTransientRailError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == ErrorKindRail && appErr.Transient
	}
	return false
}
