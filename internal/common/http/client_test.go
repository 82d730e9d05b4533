package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_PostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["prompt"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hi there"}`))
	}))
	defer server.Close()

	var out struct {
		Text string `json:"text"`
	}
	err := NewClient(5*time.Second).PostJSON(context.Background(), server.URL, map[string]string{"prompt": "hello"}, &out)

	require.NoError(t, err)
	assert.Equal(t, "hi there", out.Text)
}

func TestClient_PostJSON_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		checkFn func(t *testing.T, err error)
	}{
		{
			name:   "non 2xx returns status error",
			status: http.StatusTooManyRequests,
			body:   `{"error":"quota"}`,
			checkFn: func(t *testing.T, err error) {
				var se *StatusError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
				assert.Equal(t, `{"error":"quota"}`, se.Body)
			},
		},
		{
			name:   "error body is truncated",
			status: http.StatusInternalServerError,
			body:   strings.Repeat("x", 2048),
			checkFn: func(t *testing.T, err error) {
				var se *StatusError
				require.True(t, errors.As(err, &se))
				assert.Len(t, se.Body, maxErrorBody)
			},
		},
		{
			name:   "malformed response",
			status: http.StatusOK,
			body:   `{"text":`,
			checkFn: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "decode response")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			var out map[string]interface{}
			err := NewClient(0).PostJSON(context.Background(), server.URL, map[string]string{}, &out)
			require.Error(t, err)
			tt.checkFn(t, err)
		})
	}
}

func TestClient_PostJSON_NilOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	assert.NoError(t, NewClient(0).PostJSON(context.Background(), server.URL, map[string]string{}, nil))
}

func TestClient_PostJSON_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := NewClient(0).PostJSON(ctx, server.URL, map[string]string{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
