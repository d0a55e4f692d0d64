package common

import (
	"errors"
	"fmt"
)

// Code is the closed set of failure codes reported on work items and events.
type Code string

const (
	CodeExtractionFailed     Code = "EXTRACTION_FAILED"
	CodeClassificationFailed Code = "CLASSIFICATION_FAILED"
	CodeValidationFailed     Code = "VALIDATION_FAILED"
	CodePersistenceFailed    Code = "PERSISTENCE_FAILED"
	CodeEnvironment          Code = "ENVIRONMENT"
	CodeRejected             Code = "REJECTED"
	CodeDuplicateItem        Code = "DUPLICATE_ITEM"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodeNotFound             Code = "NOT_FOUND"
	CodeUnsupportedFormat    Code = "UNSUPPORTED_FORMAT"
)

// AppError carries a stable code alongside a human-readable message.
type AppError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(code Code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf extracts the failure code from err, defaulting to ENVIRONMENT for
// errors that escaped the coded paths.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeEnvironment
}

// Retryable reports whether a failure with this code is worth another attempt
// after RetryFailed. Shape violations are not: the same input will fail again.
func (c Code) Retryable() bool {
	switch c {
	case CodeValidationFailed, CodeRejected, CodeUnsupportedFormat:
		return false
	}
	return true
}

// Queue store contract violations are programming errors surfaced to the
// caller immediately; they are never recorded on items.
var (
	ErrDuplicateItem     = errors.New("locator already queued in a non-terminal status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("item not found")
	ErrNotPending        = errors.New("item is not pending")
	ErrQueueEmpty        = errors.New("no pending items")
)
