// Package errors provides standardized error handling for the assistant API.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeBadRequest           ErrorCode = "BAD_REQUEST"
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeForbiddenRole        ErrorCode = "FORBIDDEN_ROLE"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"

	ErrCodeGatewayFailed     ErrorCode = "GATEWAY_FAILED"
	ErrCodeGatewayTimeout    ErrorCode = "GATEWAY_TIMEOUT"
	ErrCodeRetriesExhausted  ErrorCode = "RETRIES_EXHAUSTED"
	ErrCodeStudentNotFound   ErrorCode = "STUDENT_NOT_FOUND"
	ErrCodeDatabaseFailed    ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeCacheFailed       ErrorCode = "CACHE_FAILED"
	ErrCodeAuditWriteFailed  ErrorCode = "AUDIT_WRITE_FAILED"
	ErrCodeNotificationError ErrorCode = "NOTIFICATION_SEND_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// HTTPStatus maps the error code to a response status.
func (e *StandardError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeAuthenticationFailed:
		return http.StatusUnauthorized
	case ErrCodeForbiddenRole:
		return http.StatusForbidden
	case ErrCodeStudentNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ==========================
// 2. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

func NewBadRequestError(details string) *StandardError {
	return newError(ErrCodeBadRequest, "Invalid request", details, false, nil)
}

func NewAuthenticationError(details string) *StandardError {
	return newError(ErrCodeAuthenticationFailed, "Authentication failed", details, false, nil)
}

func NewForbiddenRoleError(role string) *StandardError {
	return newError(ErrCodeForbiddenRole, "Access denied", fmt.Sprintf("role: %s", role), false, nil)
}

// NewGatewayFailedError is fatal for the whole prompt cycle.
func NewGatewayFailedError(err error) *StandardError {
	return newError(ErrCodeGatewayFailed, "Language model unavailable", err.Error(), false, err)
}

func NewGatewayTimeoutError(err error) *StandardError {
	return newError(ErrCodeGatewayTimeout, "Language model timeout", err.Error(), false, err)
}

func NewRetriesExhaustedError(attempts int, err error) *StandardError {
	var parts []string
	if attempts > 0 {
		parts = append(parts, fmt.Sprintf("attempts: %d", attempts))
	}
	if err != nil {
		parts = append(parts, fmt.Sprintf("last error: %s", err.Error()))
	}
	details := strings.Join(parts, ", ")
	return newError(ErrCodeRetriesExhausted, "Retry bound exceeded", details, false, err)
}

func NewStudentNotFoundError(userID string) *StandardError {
	return newError(ErrCodeStudentNotFound, "Student profile not found", fmt.Sprintf("userId: %s", userID), false, nil)
}

func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseFailed, "Database connection error", err.Error(), true, err)
}

func NewCacheFailedError(err error) *StandardError {
	return newError(ErrCodeCacheFailed, "Cache operation failed", err.Error(), true, err)
}

func NewAuditWriteFailedError(sink string, err error) *StandardError {
	return newError(ErrCodeAuditWriteFailed, fmt.Sprintf("Audit sink '%s' write failed", sink), err.Error(), true, err)
}

func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return newError(ErrCodeNotificationError, "Notification delivery failed",
		fmt.Sprintf("channel: %s, error: %s", channel, err.Error()), true, err)
}

func NewInternalError(err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return newError(ErrCodeInternal, "Unexpected error", details, false, err)
}

// ==========================
// 3. Helpers
// ==========================

// AsStandardError returns err as a StandardError, wrapping unknown errors as internal.
func AsStandardError(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "GATEWAY"):
		return "AI"
	case code == ErrCodeRetriesExhausted:
		return "COMMAND"
	case strings.Contains(codeStr, "DATABASE") || code == ErrCodeCacheFailed:
		return "DATABASE"
	case code == ErrCodeAuthenticationFailed || code == ErrCodeForbiddenRole:
		return "AUTH"
	case code == ErrCodeAuditWriteFailed || code == ErrCodeNotificationError:
		return "AUDIT"
	case code == ErrCodeBadRequest:
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
