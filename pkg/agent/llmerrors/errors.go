// Package llmerrors classifies backend failures so callers can tell rate limits from terminal errors.
package llmerrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType is the classification of a backend failure.
type ErrorType int8

const (
	// ErrorTypeRateLimit is a 429 or quota rejection. The router absorbs these.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient is a 5xx, reset connection or timeout.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse is a successful call that produced no content.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth is a 401/403 or missing credential.
	ErrorTypeAuth
	// ErrorTypeBadPrompt is a malformed or oversized request.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is anything unclassified.
	ErrorTypeUnknown
	// ErrorTypeServiceUnavailable means every endpoint stayed rate limited after the global retry.
	ErrorTypeServiceUnavailable
)

func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypeServiceUnavailable:
		return "service_unavailable"
	default:
		return "invalid"
	}
}

// Error is a classified backend error.
type Error struct {
	Err        error
	Message    string
	Endpoint   string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	prefix := fmt.Sprintf("LLM error (%s)", e.Type)
	if e.Endpoint != "" {
		prefix = fmt.Sprintf("LLM error (%s, %s)", e.Type, e.Endpoint)
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	default:
		return fmt.Sprintf("%s: status %d", prefix, e.StatusCode)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether err is a classified error of the given type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the classification of err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

var rateLimitHints = []string{"429", "rate limit", "rate_limit", "ratelimit", "too many requests", "quota exceeded"}

// IsRateLimit reports whether err signals a rate limit. Classified errors are
// trusted; unclassified errors are matched on their text, since backends do
// not agree on a single error type.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		if llmErr.Type == ErrorTypeRateLimit {
			return true
		}
		if llmErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range rateLimitHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return strings.Contains(fmt.Sprintf("%T", err), "RateLimit")
}

// TypeForStatus maps an HTTP status code to a classification.
func TypeForStatus(status int) ErrorType {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorTypeAuth
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge || status == http.StatusUnprocessableEntity:
		return ErrorTypeBadPrompt
	case status >= 500:
		return ErrorTypeTransient
	default:
		return ErrorTypeUnknown
	}
}

// NewError creates a classified error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewErrorWithStatus creates a classified error carrying an HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, Message: message}
}

// NewErrorWithCause creates a classified error wrapping cause.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// FromStatus wraps cause using the classification for status.
func FromStatus(status int, cause error) *Error {
	return &Error{Type: TypeForStatus(status), StatusCode: status, Err: cause}
}
