// Package apperr defines the typed error taxonomy shared by every handler
// and fetcher in the proxy. Deep code returns *Error values; the handler
// runtime is the only place that converts them into HTTP envelopes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Code identifies a failure class. Each code maps to a fixed HTTP status.
type Code string

const (
	CodeInternal               Code = "INTERNAL_ERROR"
	CodeNotFound               Code = "NOT_FOUND"
	CodeInvalidRequest         Code = "INVALID_REQUEST"
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodeRateLimitExceeded      Code = "RATE_LIMIT_EXCEEDED"
	CodeUpstreamAPIError       Code = "UPSTREAM_API_ERROR"
	CodeValidationError        Code = "VALIDATION_ERROR"
	CodeInvalidContractAddress Code = "INVALID_CONTRACT_ADDRESS"
	CodeInvalidFunction        Code = "INVALID_FUNCTION"
	CodeInvalidArguments       Code = "INVALID_ARGUMENTS"
	CodeCacheError             Code = "CACHE_ERROR"
	CodeConfigError            Code = "CONFIG_ERROR"
	CodeTimeout                Code = "TIMEOUT_ERROR"
)

// httpStatus maps each code to its HTTP response status.
var httpStatus = map[Code]int{
	CodeInternal:               http.StatusInternalServerError,
	CodeNotFound:               http.StatusNotFound,
	CodeInvalidRequest:         http.StatusBadRequest,
	CodeUnauthorized:           http.StatusUnauthorized,
	CodeRateLimitExceeded:      http.StatusTooManyRequests,
	CodeUpstreamAPIError:       http.StatusBadGateway,
	CodeValidationError:        http.StatusBadRequest,
	CodeInvalidContractAddress: http.StatusBadRequest,
	CodeInvalidFunction:        http.StatusBadRequest,
	CodeInvalidArguments:       http.StatusBadRequest,
	CodeCacheError:             http.StatusInternalServerError,
	CodeConfigError:            http.StatusInternalServerError,
	CodeTimeout:                http.StatusInternalServerError,
}

// retryable codes consume retry budget in the request queue; everything
// else rejects immediately.
var retryable = map[Code]bool{
	CodeUpstreamAPIError: true,
	CodeTimeout:          true,
}

// Error is a typed failure carrying a code, a message, and optional
// structured details. ID correlates the HTTP response with log output.
type Error struct {
	ID      string         `json:"id"`
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	cause error
}

// New creates an Error with a fresh correlation ID.
func New(code Code, msg string, args ...any) *Error {
	return &Error{
		ID:      uuid.NewString(),
		Code:    code,
		Message: fmt.Sprintf(msg, args...),
	}
}

// WithDetails attaches structured details and returns the same error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithCause records an underlying error for Unwrap.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the response status for the error's code.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the error's failure class may be retried by
// the request queue.
func (e *Error) Retryable() bool { return retryable[e.Code] }

// From extracts an *Error from err's chain, or wraps err as an internal
// error when it carries no code.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return New(CodeInternal, "%v", err).WithCause(err)
}

// IsRetryable reports whether err's failure class is retryable. Errors
// without a code are treated as retryable upstream failures, matching the
// queue's handling of raw transport errors.
func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	return true
}
