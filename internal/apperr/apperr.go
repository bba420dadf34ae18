// Package apperr defines the error taxonomy shared by the interview service
// and its HTTP surface.
package apperr

import (
	"errors"
	"fmt"
)

const (
	CodeNotFound      = "NOT_FOUND"
	CodeGateway       = "GATEWAY_ERROR"
	CodeProcessing    = "PROCESSING_ERROR"
	CodeTranscription = "TRANSCRIPTION_ERROR"
	CodeValidation    = "VALIDATION_ERROR"
	CodeUnavailable   = "UNAVAILABLE"
	CodeInternal      = "INTERNAL_ERROR"
)

// Sentinels for errors.Is checks. Matching is by code only.
var (
	ErrNotFound      = &AppError{Code: CodeNotFound}
	ErrGateway       = &AppError{Code: CodeGateway}
	ErrProcessing    = &AppError{Code: CodeProcessing}
	ErrTranscription = &AppError{Code: CodeTranscription}
	ErrValidation    = &AppError{Code: CodeValidation}
	ErrUnavailable   = &AppError{Code: CodeUnavailable}
)

// AppError represents a structured application error.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError carrying the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func Validation(message string) *AppError {
	return New(CodeValidation, message)
}

func Gateway(service string, cause error) *AppError {
	return &AppError{
		Code:    CodeGateway,
		Message: fmt.Sprintf("%s gateway error", service),
		Cause:   cause,
	}
}

func Processing(message string, cause error) *AppError {
	return &AppError{Code: CodeProcessing, Message: message, Cause: cause}
}

func Transcription(message string, cause error) *AppError {
	return &AppError{Code: CodeTranscription, Message: message, Cause: cause}
}

// Unavailable reports that the service cannot accept more work right now.
func Unavailable(message string, cause error) *AppError {
	return &AppError{Code: CodeUnavailable, Message: message, Cause: cause}
}

// Code returns the code of the outermost AppError in the chain, or
// CodeInternal when there is none.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}
