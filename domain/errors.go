package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a semantic classification shared across transport layers.
type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeInvalid      ErrorCode = "INVALID"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInternal     ErrorCode = "INTERNAL"
)

// Error represents a domain-level error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds a domain error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain classification.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain errors.
var (
	ErrDocumentNotFound = NewError(ErrCodeNotFound, "document not found")
	ErrInvalidPayload   = NewError(ErrCodeInvalid, "invalid payload")
)

// InvalidPayload reports a malformed event payload. The result matches
// ErrInvalidPayload under errors.Is.
func InvalidPayload(message string, cause error) *Error {
	err := error(ErrInvalidPayload)
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidPayload, cause)
	}
	return WrapError(ErrCodeInvalid, message, err)
}

// IsDomainError helps checking error codes.
func IsDomainError(err error, code ErrorCode) bool {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// ProxyKind classifies every failure the gateway can produce while forwarding a call.
type ProxyKind string

const (
	ProxyServiceNotFound    ProxyKind = "SERVICE_NOT_FOUND"
	ProxyUpstreamError      ProxyKind = "UPSTREAM_ERROR"
	ProxyServiceUnavailable ProxyKind = "SERVICE_UNAVAILABLE"
	ProxyInternalError      ProxyKind = "INTERNAL_PROXY_ERROR"
)

// ProxyError is the only error type returned by the gateway dispatcher.
// Err holds the underlying cause for logging and is never rendered to clients.
type ProxyError struct {
	Kind    ProxyKind
	Service string
	Status  int
	Message string
	Err     error
}

func (e *ProxyError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case ProxyUpstreamError:
		return fmt.Sprintf("service %s error: %d %s", e.Service, e.Status, e.Message)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
}

func (e *ProxyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HTTPStatus returns the status a client should see for this failure.
func (e *ProxyError) HTTPStatus() int {
	switch e.Kind {
	case ProxyServiceNotFound:
		return http.StatusBadGateway
	case ProxyUpstreamError:
		if e.Status >= http.StatusBadRequest {
			return e.Status
		}
		return http.StatusBadGateway
	case ProxyServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ServiceNotFound reports a call to a service name that is not registered.
func ServiceNotFound(service string) *ProxyError {
	return &ProxyError{
		Kind:    ProxyServiceNotFound,
		Service: service,
		Message: fmt.Sprintf("Service %s not found", service),
	}
}

// UpstreamError reports a response the upstream answered with a non-success status.
func UpstreamError(service string, status int, message string) *ProxyError {
	return &ProxyError{
		Kind:    ProxyUpstreamError,
		Service: service,
		Status:  status,
		Message: message,
	}
}

// ServiceUnavailable reports that no response was received from the upstream.
func ServiceUnavailable(service string, cause error) *ProxyError {
	return &ProxyError{
		Kind:    ProxyServiceUnavailable,
		Service: service,
		Message: fmt.Sprintf("Service %s is currently unavailable", service),
		Err:     cause,
	}
}

// InternalProxyError reports a failure inside the gateway itself.
func InternalProxyError(service string, cause error) *ProxyError {
	return &ProxyError{
		Kind:    ProxyInternalError,
		Service: service,
		Message: "Internal proxy error",
		Err:     cause,
	}
}

// IsProxyKind reports whether err carries a ProxyError of the given kind.
func IsProxyKind(err error, kind ProxyKind) bool {
	var pErr *ProxyError
	if errors.As(err, &pErr) {
		return pErr.Kind == kind
	}
	return false
}
