// Package errors defines the coded error taxonomy shared by the extraction
// pipeline. Callers import it as apperrors and classify failures with Code or Is.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the pipeline.
const (
	CodeUnknown             = "UNKNOWN"
	CodeSourceUnavailable   = "SOURCE_UNAVAILABLE"
	CodeEmptyBatch          = "EMPTY_BATCH"
	CodeMalformedExtraction = "MALFORMED_EXTRACTION"
	CodePersistenceFailure  = "PERSISTENCE_FAILURE"
	CodeExtractionService   = "EXTRACTION_SERVICE"
	CodeValidation          = "VALIDATION"
	CodeConfig              = "CONFIG"
)

// ApplicationError is the interface that all our custom errors implement.
type ApplicationError interface {
	error
	Code() string
	Unwrap() error
}

// Error represents a coded application error.
type Error struct {
	code    string
	message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}

	return e.message
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the code of the first ApplicationError in err's chain,
// or CodeUnknown if there is none.
func Code(err error) string {
	var appErr ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}

	return CodeUnknown
}

// Is reports whether any error in err's chain carries code.
func Is(err error, code string) bool {
	for err != nil {
		if appErr, ok := err.(ApplicationError); ok && appErr.Code() == code {
			return true
		}
		switch x := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				if Is(inner, code) {
					return true
				}
			}
			return false
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		default:
			return false
		}
	}
	return false
}

func newError(code, message string, cause error) error {
	return &Error{code: code, message: message, err: cause}
}

// NewSourceUnavailable reports that the message source could not route or read a batch.
func NewSourceUnavailable(message string, cause error) error {
	return newError(CodeSourceUnavailable, message, cause)
}

// NewEmptyBatch reports a batch with no valid messages after filtering.
func NewEmptyBatch(message string) error {
	return newError(CodeEmptyBatch, message, nil)
}

// NewMalformedExtraction reports an extraction response that is not a well-shaped document.
func NewMalformedExtraction(message string, cause error) error {
	return newError(CodeMalformedExtraction, message, cause)
}

// NewPersistenceFailure reports a failed snapshot or cursor write.
func NewPersistenceFailure(message string, cause error) error {
	return newError(CodePersistenceFailure, message, cause)
}

// NewExtractionService reports a failed call to the extraction service.
func NewExtractionService(message string, cause error) error {
	return newError(CodeExtractionService, message, cause)
}

func NewValidationError(message string, cause error) error {
	return newError(CodeValidation, message, cause)
}

func NewConfigError(message string, cause error) error {
	return newError(CodeConfig, message, cause)
}
