package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of a router error.
type ErrorType string

const (
	// ErrorTypeConfiguration indicates an invalid run request, rejected before the run starts.
	ErrorTypeConfiguration ErrorType = "configuration"

	// ErrorTypeInvalidRequest indicates a malformed inbound body.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeNotFound indicates a session or trace was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeDuplicateSession indicates the context id is already registered.
	ErrorTypeDuplicateSession ErrorType = "duplicate_session"

	// ErrorTypeSubscriberOverflow indicates a subscriber fell too far behind and was dropped.
	ErrorTypeSubscriberOverflow ErrorType = "subscriber_overflow"

	// ErrorTypeModelUnavailable indicates the reasoning model could not be reached.
	ErrorTypeModelUnavailable ErrorType = "model_unavailable"

	// ErrorTypeMalformedOutput indicates the reasoning model returned an unparseable thought.
	ErrorTypeMalformedOutput ErrorType = "malformed_output"

	ErrorTypeToolNotFound  ErrorType = "tool_not_found"
	ErrorTypeToolExecution ErrorType = "tool_execution"
	ErrorTypeToolTimeout   ErrorType = "tool_timeout"

	// ErrorTypeStorageUnavailable indicates the trace sink failed. Never fatal to a run.
	ErrorTypeStorageUnavailable ErrorType = "storage_unavailable"

	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeInvalidMaxIterations ErrorCode = "invalid_max_iterations"
	ErrorCodeEmptyQuestion        ErrorCode = "empty_question"
	ErrorCodeRateLimitExceeded    ErrorCode = "rate_limit_exceeded"
	ErrorCodeInvalidAPIKey        ErrorCode = "invalid_api_key"
	ErrorCodeRunTimeout           ErrorCode = "run_timeout"
	ErrorCodeRetryExhausted       ErrorCode = "retry_exhausted"
	ErrorCodePolicyBlocked        ErrorCode = "policy_blocked"
	ErrorCodeInvalidArguments     ErrorCode = "invalid_arguments"
	ErrorCodeMaxDepth             ErrorCode = "max_depth_exceeded"
)

// APIError is the canonical error carried across the router's boundaries.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Param is the parameter that caused the error (if applicable)
	Param string `json:"param,omitempty"`

	// StatusCode is the suggested HTTP status code
	StatusCode int `json:"-"`

	cause error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *APIError) Unwrap() error {
	return e.cause
}

// Is matches another APIError by type, and by code when the target sets one.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	if t.Type != e.Type {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeConfiguration, ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound, ErrorTypeToolNotFound:
		return http.StatusNotFound
	case ErrorTypeDuplicateSession:
		return http.StatusConflict
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeModelUnavailable, ErrorTypeMalformedOutput, ErrorTypeToolExecution:
		return http.StatusBadGateway
	case ErrorTypeToolTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeStorageUnavailable, ErrorTypeSubscriberOverflow:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithParam adds a parameter name to the error.
func (e *APIError) WithParam(param string) *APIError {
	e.Param = param
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// WithCause records the underlying error for errors.Is/As chains.
func (e *APIError) WithCause(err error) *APIError {
	e.cause = err
	return e
}

// ErrorTypeOf extracts the ErrorType from err, or "" if err carries none.
func ErrorTypeOf(err error) ErrorType {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type
	}
	return ""
}

// IsType reports whether err, or anything it wraps, is an APIError of the given type.
func IsType(err error, t ErrorType) bool {
	return ErrorTypeOf(err) == t
}

// Convenience constructors for common errors

// ErrConfiguration creates a configuration error.
func ErrConfiguration(message string) *APIError {
	return NewAPIError(ErrorTypeConfiguration, message)
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *APIError {
	return NewAPIError(ErrorTypeNotFound, message)
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message)
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *APIError {
	return NewAPIError(ErrorTypeRateLimit, message).
		WithCode(ErrorCodeRateLimitExceeded)
}

// ErrModelUnavailable creates a model unavailable error.
func ErrModelUnavailable(message string) *APIError {
	return NewAPIError(ErrorTypeModelUnavailable, message)
}

// ErrMalformedOutput creates a malformed output error.
func ErrMalformedOutput(message string) *APIError {
	return NewAPIError(ErrorTypeMalformedOutput, message)
}

// ErrToolNotFound creates a tool not found error.
func ErrToolNotFound(name string) *APIError {
	return NewAPIError(ErrorTypeToolNotFound, fmt.Sprintf("tool %q not found", name)).
		WithParam(name)
}

// ErrToolExecution creates a tool execution error.
func ErrToolExecution(message string) *APIError {
	return NewAPIError(ErrorTypeToolExecution, message)
}

// ErrToolTimeout creates a tool timeout error.
func ErrToolTimeout(message string) *APIError {
	return NewAPIError(ErrorTypeToolTimeout, message)
}

// ErrStorageUnavailable creates a storage unavailable error.
func ErrStorageUnavailable(message string) *APIError {
	return NewAPIError(ErrorTypeStorageUnavailable, message)
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}
