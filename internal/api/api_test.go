package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostel-assistant/internal/assistant/gateway"
	"hostel-assistant/internal/assistant/orchestrator"
	"hostel-assistant/internal/assistant/student"
	"hostel-assistant/internal/common/auth"
	"hostel-assistant/internal/common/logger"
	"hostel-assistant/internal/models"
)

// ==========================
// Test Helpers
// ==========================

const testSecret = "test-secret"

type fakeAdmin struct {
	resp *orchestrator.Response
	err  error
	turn models.ConversationTurn
}

func (f *fakeAdmin) Process(_ context.Context, turn models.ConversationTurn) (*orchestrator.Response, error) {
	f.turn = turn
	return f.resp, f.err
}

type fakeStudent struct {
	reply  string
	err    error
	userID string
}

func (f *fakeStudent) Answer(_ context.Context, userID, _ string) (string, error) {
	f.userID = userID
	return f.reply, f.err
}

type fakeVisitor struct {
	reply string
	err   error
}

func (f *fakeVisitor) Answer(context.Context, string) (string, error) {
	return f.reply, f.err
}

type fakeCheck struct {
	name string
	err  error
}

func (f fakeCheck) Ping(context.Context) error { return f.err }
func (f fakeCheck) Name() string               { return f.name }

type testServer struct {
	router   *gin.Engine
	admin    *fakeAdmin
	student  *fakeStudent
	visitor  *fakeVisitor
	verifier *auth.Verifier
}

func newTestServer(t *testing.T, checks ...HealthChecker) *testServer {
	gin.SetMode(gin.TestMode)
	s := &testServer{
		admin:    &fakeAdmin{resp: &orchestrator.Response{Label: orchestrator.LabelProcessed, Text: "There are **45** students present.", IsAction: true}},
		student:  &fakeStudent{reply: "Your attendance is 90%."},
		visitor:  &fakeVisitor{reply: "Deluxe rooms cost Rs 12,000/month."},
		verifier: auth.NewVerifier(testSecret, ""),
	}
	s.router = NewRouter(RouterConfig{
		Admin:    s.admin,
		Student:  s.student,
		Visitor:  s.visitor,
		Verifier: s.verifier,
		Checks:   checks,
		Logger:   logger.NewTestLogger(t),
	})
	return s
}

func (s *testServer) token(t *testing.T, role models.Role) string {
	tok, err := s.verifier.Sign(models.Principal{UserID: "u-" + string(role), Role: role}, time.Minute)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// ==========================
// Admin
// ==========================

func TestAdminQuery_Success(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/admin/query", s.token(t, models.RoleAdmin), map[string]interface{}{
		"prompt":  "how many present today",
		"history": []map[string]string{{"role": "user", "content": "hi"}},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[models.QueryResponse](t, rec)
	assert.Equal(t, "admin", body.Status)
	assert.Equal(t, "Query processed", body.Message)
	assert.Equal(t, "There are **45** students present.", body.Data)
	require.NotNil(t, body.Meta)
	assert.True(t, body.Meta.IsAction)

	assert.Equal(t, "how many present today", s.admin.turn.Prompt)
	assert.Len(t, s.admin.turn.History, 1)
	assert.Equal(t, "u-admin", s.admin.turn.UserID)
	assert.NotEmpty(t, s.admin.turn.RequestID)
	assert.Equal(t, s.admin.turn.RequestID, rec.Header().Get("X-Request-Id"))
}

func TestAdminQuery_TextReplyHasActionFalse(t *testing.T) {
	s := newTestServer(t)
	s.admin.resp = &orchestrator.Response{Label: orchestrator.LabelProcessed, Text: "Hello!"}

	rec := s.do(http.MethodPost, "/admin/query", s.token(t, models.RoleAdmin), map[string]string{"prompt": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"admin","message":"Query processed","data":"Hello!","meta":{"isAction":false}}`, rec.Body.String())
}

func TestAdminQuery_PromptRequired(t *testing.T) {
	s := newTestServer(t)
	for _, body := range []interface{}{map[string]string{}, map[string]string{"prompt": "   "}, "{not json"} {
		rec := s.do(http.MethodPost, "/admin/query", s.token(t, models.RoleAdmin), body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Prompt is required", decode[models.ErrorResponse](t, rec).Message)
	}
}

func TestAdminQuery_FatalErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"gateway failure", fmt.Errorf("%w: upstream 503", gateway.ErrGatewayFailed), "GATEWAY_FAILED"},
		{"retries exhausted", fmt.Errorf("%w: after 3 attempts", orchestrator.ErrRetriesExhausted), "RETRIES_EXHAUSTED"},
		{"deadline", context.DeadlineExceeded, "GATEWAY_TIMEOUT"},
		{"unknown", errors.New("boom"), "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.admin.err = tt.err

			rec := s.do(http.MethodPost, "/admin/query", s.token(t, models.RoleAdmin), map[string]string{"prompt": "q"})
			require.Equal(t, http.StatusInternalServerError, rec.Code)
			body := decode[models.ErrorResponse](t, rec)
			assert.Equal(t, "An internal error occurred.", body.Message)
			assert.Equal(t, tt.wantCode, body.Code)
		})
	}
}

func TestAdminQuery_Auth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/admin/query", "", map[string]string{"prompt": "q"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/admin/query", "garbage", map[string]string{"prompt": "q"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/admin/query", s.token(t, models.RoleStudent), map[string]string{"prompt": "q"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN_ROLE", decode[models.ErrorResponse](t, rec).Code)
}

// ==========================
// Student & Visitor
// ==========================

func TestStudentQuery(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/student/query", s.token(t, models.RoleStudent), map[string]string{"prompt": "my attendance?"})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[models.QueryResponse](t, rec)
	assert.Equal(t, "student", body.Status)
	assert.Equal(t, "Your attendance is 90%.", body.Data)
	assert.Nil(t, body.Meta)
	assert.Equal(t, "u-student", s.student.userID)
}

func TestStudentQuery_NotFound(t *testing.T) {
	s := newTestServer(t)
	s.student.err = fmt.Errorf("%w: no student", student.ErrStudentNotFound)

	rec := s.do(http.MethodPost, "/student/query", s.token(t, models.RoleStudent), map[string]string{"prompt": "fees?"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "STUDENT_NOT_FOUND", decode[models.ErrorResponse](t, rec).Code)
}

func TestVisitorRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/visitor/query", "", map[string]string{"prompt": "room prices?"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[models.QueryResponse](t, rec)
	assert.Equal(t, "visitor", body.Status)
	assert.Equal(t, "Deluxe rooms cost Rs 12,000/month.", body.Data)

	rec = s.do(http.MethodGet, "/visitor/test", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Visitor AI Service is running"}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/visitor/query", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ==========================
// Service Endpoints
// ==========================

func TestServiceEndpoints(t *testing.T) {
	s := newTestServer(t, fakeCheck{name: "postgres"}, fakeCheck{name: "redis"})

	rec := s.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/admin/query (Protected)")

	rec = s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "assistant_http_requests_total")
}

func TestReady_DependencyDown(t *testing.T) {
	s := newTestServer(t, fakeCheck{name: "postgres"}, fakeCheck{name: "elasticsearch", err: errors.New("connection refused")})

	rec := s.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "elasticsearch")
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-Id"))
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/admin/query", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
