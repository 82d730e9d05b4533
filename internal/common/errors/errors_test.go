package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	errors []map[string]interface{}
	warns  []map[string]interface{}
}

func (l *recordingLogger) Error(msg string, fields map[string]interface{}) {
	l.errors = append(l.errors, fields)
}

func (l *recordingLogger) Warn(msg string, fields map[string]interface{}) {
	l.warns = append(l.warns, fields)
}

func TestStandardError_HTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      *StandardError
		expected int
	}{
		{"bad request", NewBadRequestError("prompt missing"), http.StatusBadRequest},
		{"authentication", NewAuthenticationError("expired"), http.StatusUnauthorized},
		{"forbidden role", NewForbiddenRoleError("student"), http.StatusForbidden},
		{"student not found", NewStudentNotFoundError("u1"), http.StatusNotFound},
		{"gateway timeout", NewGatewayTimeoutError(errors.New("deadline")), http.StatusInternalServerError},
		{"gateway failed", NewGatewayFailedError(errors.New("503")), http.StatusInternalServerError},
		{"retries exhausted", NewRetriesExhaustedError(3, nil), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.HTTPStatus())
		})
	}
}

func TestStandardError_Retryable(t *testing.T) {
	assert.True(t, NewCacheFailedError(errors.New("connection reset")).Retryable)
	assert.True(t, NewAuditWriteFailedError("elasticsearch", errors.New("503")).Retryable)
	assert.True(t, NewNotificationSendFailedError("sns", errors.New("throttled")).Retryable)
	assert.False(t, NewRetriesExhaustedError(3, nil).Retryable)
	assert.False(t, NewGatewayFailedError(errors.New("down")).Retryable)
}

func TestAsStandardError(t *testing.T) {
	cause := errors.New("connection refused")
	std := NewDatabaseConnectionFailedError(cause)
	wrapped := fmt.Errorf("store: %w", std)

	got := AsStandardError(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, ErrCodeDatabaseFailed, got.Code)
	assert.True(t, errors.Is(got, cause))

	plain := AsStandardError(errors.New("mystery"))
	assert.Equal(t, ErrCodeInternal, plain.Code)
	assert.Equal(t, "mystery", plain.Details)

	assert.Nil(t, AsStandardError(nil))
	assert.True(t, got.Retryable)
	assert.False(t, plain.Retryable)
}

func TestGetErrorCategory(t *testing.T) {
	tests := map[ErrorCode]string{
		ErrCodeGatewayFailed:        "AI",
		ErrCodeRetriesExhausted:     "COMMAND",
		ErrCodeCacheFailed:          "DATABASE",
		ErrCodeNotificationError:    "AUDIT",
		ErrCodeDatabaseFailed:       "DATABASE",
		ErrCodeAuthenticationFailed: "AUTH",
		ErrCodeAuditWriteFailed:     "AUDIT",
		ErrCodeBadRequest:           "VALIDATION",
		ErrCodeInternal:             "OTHER",
	}
	for code, category := range tests {
		t.Run(string(code), func(t *testing.T) {
			assert.Equal(t, category, GetErrorCategory(code))
		})
	}
}

func TestErrorHandler_Handle(t *testing.T) {
	log := &recordingLogger{}
	h := NewErrorHandler(log)

	status, stdErr := h.Handle("/admin/query", "req-1", NewBadRequestError("Prompt is required"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, ErrCodeBadRequest, stdErr.Code)
	assert.Len(t, log.warns, 1)

	status, _ = h.Handle("/admin/query", "req-2", errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	require.Len(t, log.errors, 1)
	assert.Equal(t, "req-2", log.errors[0]["requestId"])
	assert.Equal(t, "OTHER", log.errors[0]["errorCategory"])
}
