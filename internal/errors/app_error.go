// Package errors defines the structured error type used on the HTTP boundary.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to clients.
const (
	CodeInvalidBody   = "invalid_body"
	CodeMissingInput  = "missing_input"
	CodeInvalidAudio  = "invalid_audio"
	CodeNotFound      = "not_found"
	CodeUpstream      = "upstream_error"
	CodeTranscription = "transcription_failed"
	CodeStorage       = "storage_error"
	CodeInternal      = "internal_error"
)

// AppError represents a structured application error.
type AppError struct {
	// HTTPStatusCode is the HTTP status code to return.
	HTTPStatusCode int `json:"-"`
	// Code is a stable machine-readable error code.
	Code string `json:"code"`
	// Message is the user-facing error message.
	Message string `json:"message"`
	// Details provides additional error context (optional).
	Details map[string]interface{} `json:"details,omitempty"`
	// Err is the underlying error (not marshaled to JSON).
	Err error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ToJSON returns the JSON byte representation of the error.
func (e *AppError) ToJSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Status returns the HTTP status, defaulting to 500.
func (e *AppError) Status() int {
	if e == nil || e.HTTPStatusCode == 0 {
		return http.StatusInternalServerError
	}
	return e.HTTPStatusCode
}

// WithDetail attaches a detail entry and returns the receiver.
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError.
func New(statusCode int, code, message string, err error) *AppError {
	return &AppError{
		HTTPStatusCode: statusCode,
		Code:           code,
		Message:        message,
		Err:            err,
	}
}

// BadRequest creates a 400 AppError.
func BadRequest(code, message string, err error) *AppError {
	return New(http.StatusBadRequest, code, message, err)
}

// As extracts an AppError from an error chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
