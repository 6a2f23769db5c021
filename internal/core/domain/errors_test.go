package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{
			name:     "error with type and message",
			err:      &APIError{Type: ErrorTypeConfiguration, Message: "bad request"},
			expected: "configuration: bad request",
		},
		{
			name:     "error with type, code, and message",
			err:      &APIError{Type: ErrorTypeRateLimit, Code: ErrorCodeRateLimitExceeded, Message: "rate limited"},
			expected: "rate_limit (rate_limit_exceeded): rate limited",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected int
	}{
		{"configuration", &APIError{Type: ErrorTypeConfiguration}, http.StatusBadRequest},
		{"invalid request", &APIError{Type: ErrorTypeInvalidRequest}, http.StatusBadRequest},
		{"authentication", &APIError{Type: ErrorTypeAuthentication}, http.StatusUnauthorized},
		{"not found", &APIError{Type: ErrorTypeNotFound}, http.StatusNotFound},
		{"duplicate session", &APIError{Type: ErrorTypeDuplicateSession}, http.StatusConflict},
		{"rate limit", &APIError{Type: ErrorTypeRateLimit}, http.StatusTooManyRequests},
		{"model unavailable", &APIError{Type: ErrorTypeModelUnavailable}, http.StatusBadGateway},
		{"tool timeout", &APIError{Type: ErrorTypeToolTimeout}, http.StatusGatewayTimeout},
		{"storage unavailable", &APIError{Type: ErrorTypeStorageUnavailable}, http.StatusServiceUnavailable},
		{"server", &APIError{Type: ErrorTypeServer}, http.StatusInternalServerError},
		{"unknown error type", &APIError{Type: ErrorType("unknown")}, http.StatusInternalServerError},
		{"explicit status code", &APIError{Type: ErrorTypeConfiguration, StatusCode: http.StatusConflict}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.expected {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestAPIError_Is(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("think: %w", ErrModelUnavailable("backend down").WithCause(cause))

	if !errors.Is(err, &APIError{Type: ErrorTypeModelUnavailable}) {
		t.Error("expected errors.Is to match on type")
	}
	if errors.Is(err, &APIError{Type: ErrorTypeMalformedOutput}) {
		t.Error("expected errors.Is not to match a different type")
	}
	if errors.Is(err, &APIError{Type: ErrorTypeModelUnavailable, Code: ErrorCodeRunTimeout}) {
		t.Error("expected errors.Is not to match a different code")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if got := ErrorTypeOf(err); got != ErrorTypeModelUnavailable {
		t.Errorf("ErrorTypeOf() = %q, want %q", got, ErrorTypeModelUnavailable)
	}
	if ErrorTypeOf(cause) != "" {
		t.Error("expected empty type for a plain error")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func(string) *APIError
		message      string
		expectedType ErrorType
		expectedCode ErrorCode
	}{
		{"ErrConfiguration", ErrConfiguration, "max_iterations must be >= 1", ErrorTypeConfiguration, ""},
		{"ErrInvalidRequest", ErrInvalidRequest, "bad body", ErrorTypeInvalidRequest, ""},
		{"ErrNotFound", ErrNotFound, "run not found", ErrorTypeNotFound, ""},
		{"ErrAuthentication", ErrAuthentication, "invalid key", ErrorTypeAuthentication, ""},
		{"ErrRateLimit", ErrRateLimit, "rate limited", ErrorTypeRateLimit, ErrorCodeRateLimitExceeded},
		{"ErrModelUnavailable", ErrModelUnavailable, "down", ErrorTypeModelUnavailable, ""},
		{"ErrMalformedOutput", ErrMalformedOutput, "not json", ErrorTypeMalformedOutput, ""},
		{"ErrToolExecution", ErrToolExecution, "boom", ErrorTypeToolExecution, ""},
		{"ErrToolTimeout", ErrToolTimeout, "slow", ErrorTypeToolTimeout, ""},
		{"ErrStorageUnavailable", ErrStorageUnavailable, "disk full", ErrorTypeStorageUnavailable, ""},
		{"ErrServer", ErrServer, "internal error", ErrorTypeServer, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.constructor(tt.message)
			if err.Type != tt.expectedType {
				t.Errorf("Type = %v, want %v", err.Type, tt.expectedType)
			}
			if err.Code != tt.expectedCode {
				t.Errorf("Code = %v, want %v", err.Code, tt.expectedCode)
			}
			if err.Message != tt.message {
				t.Errorf("Message = %q, want %q", err.Message, tt.message)
			}
		})
	}
}

func TestErrToolNotFound(t *testing.T) {
	err := ErrToolNotFound("get_weather")
	if err.Type != ErrorTypeToolNotFound {
		t.Errorf("Type = %v, want %v", err.Type, ErrorTypeToolNotFound)
	}
	if err.Param != "get_weather" {
		t.Errorf("Param = %q, want %q", err.Param, "get_weather")
	}
}

func TestAPIError_Chaining(t *testing.T) {
	err := NewAPIError(ErrorTypeConfiguration, "test").
		WithCode(ErrorCodeInvalidMaxIterations).
		WithParam("max_iterations").
		WithStatusCode(http.StatusUnprocessableEntity)

	if err.Code != ErrorCodeInvalidMaxIterations {
		t.Errorf("Code = %v, want %v", err.Code, ErrorCodeInvalidMaxIterations)
	}
	if err.Param != "max_iterations" {
		t.Errorf("Param = %q, want %q", err.Param, "max_iterations")
	}
	if err.HTTPStatusCode() != http.StatusUnprocessableEntity {
		t.Errorf("HTTPStatusCode() = %d, want %d", err.HTTPStatusCode(), http.StatusUnprocessableEntity)
	}
}
