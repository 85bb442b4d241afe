// Package errors provides standardized API error types.
package errors

import (
	"fmt"
	"net/http"
)

// APIError is the user-visible error shape: a short human summary under
// "error" and an optional detail under "message".
type APIError struct {
	Summary    string `json:"error"`
	Message    string `json:"message,omitempty"`
	StatusCode int    `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Summary, e.Message)
	}
	return e.Summary
}

// WithMessage returns a copy of the error with a detail message attached.
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{
		Summary:    e.Summary,
		Message:    message,
		StatusCode: e.StatusCode,
	}
}

// Standard error definitions
var (
	// ErrUnauthorized is returned when authentication is required but missing or invalid.
	ErrUnauthorized = &APIError{
		Summary:    "Unauthorized",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrForbidden is returned when the user lacks permission for an action.
	ErrForbidden = &APIError{
		Summary:    "Forbidden",
		StatusCode: http.StatusForbidden,
	}

	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = &APIError{
		Summary:    "Not found",
		StatusCode: http.StatusNotFound,
	}

	// ErrBadRequest is returned when the request is malformed.
	ErrBadRequest = &APIError{
		Summary:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	// ErrRateLimited is returned when rate limits are exceeded.
	ErrRateLimited = &APIError{
		Summary:    "Too many requests",
		StatusCode: http.StatusTooManyRequests,
	}

	// ErrConflict is returned when a resource already exists.
	ErrConflict = &APIError{
		Summary:    "Resource already exists",
		StatusCode: http.StatusConflict,
	}

	// ErrNotImplemented is returned for operations that are stubbed out.
	ErrNotImplemented = &APIError{
		Summary:    "Not implemented",
		StatusCode: http.StatusNotImplemented,
	}

	// ErrInternal is returned for unexpected server errors.
	ErrInternal = &APIError{
		Summary:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// NewValidationError creates a 400 error for a specific field.
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Summary:    "Validation failed",
		Message:    fmt.Sprintf("%s: %s", field, message),
		StatusCode: http.StatusBadRequest,
	}
}

// NewNotFoundError creates a not found error for a specific resource type.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Summary:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

// NewConflictError creates a conflict error with a custom summary.
func NewConflictError(summary string) *APIError {
	return &APIError{
		Summary:    summary,
		StatusCode: http.StatusConflict,
	}
}

// IsAPIError checks if an error is an APIError.
func IsAPIError(err error) bool {
	_, ok := err.(*APIError)
	return ok
}

// AsAPIError converts an error to an APIError if possible.
// Unknown errors map to ErrInternal with the error text as detail.
func AsAPIError(err error) *APIError {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	return ErrInternal.WithMessage(err.Error())
}
