// internal/errors/errors.go
// Package errors provides standardized error handling for the StyleVault service.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the StyleVault service.
type ErrorCode string

const (
	// Remote storage failure classes. The distinction is load-bearing for
	// the sync coordinator: unavailable and permission-denied degrade to
	// local-only operation, data errors must surface to the caller.
	SV_UNAVAILABLE ErrorCode = "SV_UNAVAILABLE" // Remote store unreachable (transient/offline)
	SV_PERMISSION  ErrorCode = "SV_PERMISSION"  // Remote access control rejected the call
	SV_DATA        ErrorCode = "SV_DATA"        // Malformed entity or serialization failure

	// Local storage failures are caught at the cache boundary and reported
	// as false/default values, never thrown past it.
	SV_LOCAL_STORAGE ErrorCode = "SV_LOCAL_STORAGE"

	// HTTP surface errors
	SV_VALIDATION ErrorCode = "SV_VALIDATION" // Request validation failed
	SV_AUTHN      ErrorCode = "SV_AUTHN"      // Authentication failed
	SV_AUTHZ      ErrorCode = "SV_AUTHZ"      // Authorization failed
	SV_NOT_FOUND  ErrorCode = "SV_NOT_FOUND"  // Resource not found
	SV_RATE_LIMIT ErrorCode = "SV_RATE_LIMIT" // Rate or usage limit exceeded
	SV_INTERNAL   ErrorCode = "SV_INTERNAL"   // Internal server error
)

// Error represents a standardized error with a code, message, and optional
// correlation ID for request tracking.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
	cause         error
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatusForCode(code),
	}
}

// Wrap creates a new Error with the specified code that wraps an underlying
// cause, preserving it for errors.Is/As chains.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatusForCode(code),
		cause:      cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// WithCorrelation returns a copy of e carrying the correlation ID.
func (e *Error) WithCorrelation(id string) *Error {
	c := *e
	c.CorrelationID = id
	return &c
}

// CodeOf extracts the error code from err, or SV_INTERNAL if err carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return SV_INTERNAL
}

// IsUnavailable reports whether err is a transient remote-unavailable
// failure. Callers treat it as "no cloud data this cycle", never as a
// reason to destroy local state.
func IsUnavailable(err error) bool {
	return err != nil && CodeOf(err) == SV_UNAVAILABLE
}

// IsPermissionDenied reports whether err is a remote access-control
// rejection. These indicate misconfiguration and are logged distinctly.
func IsPermissionDenied(err error) bool {
	return err != nil && CodeOf(err) == SV_PERMISSION
}

// IsDataError reports whether err is a malformed-entity or serialization
// failure, which must be propagated rather than swallowed.
func IsDataError(err error) bool {
	return err != nil && CodeOf(err) == SV_DATA
}

// Degradable reports whether err permits continued local-only operation
// (unavailable or permission-denied, as opposed to a data error).
func Degradable(err error) bool {
	return IsUnavailable(err) || IsPermissionDenied(err)
}

// httpStatusForCode maps error codes to HTTP status codes.
func httpStatusForCode(code ErrorCode) int {
	switch code {
	case SV_VALIDATION, SV_DATA:
		return http.StatusBadRequest
	case SV_AUTHN:
		return http.StatusUnauthorized
	case SV_AUTHZ:
		return http.StatusForbidden
	case SV_NOT_FOUND:
		return http.StatusNotFound
	case SV_RATE_LIMIT:
		return http.StatusTooManyRequests
	case SV_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
