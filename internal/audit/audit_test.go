package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "hostel-assistant/internal/common/errors"
	"hostel-assistant/internal/common/logger"
	"hostel-assistant/internal/models"
)

// ==========================
// Test Helpers
// ==========================

func sampleEntry(outcome models.AuditOutcome, op models.Operation) *models.AuditEntry {
	return &models.AuditEntry{
		ID:         "audit-1",
		RequestID:  "req-1",
		Prompt:     "mark december fees paid",
		EntityName: models.EntityFee,
		Operation:  op,
		Attempts:   1,
		Outcome:    outcome,
		IsAction:   true,
		Matched:    4,
		Modified:   3,
		Timestamp:  time.Date(2024, 12, 10, 9, 0, 0, 0, time.UTC),
	}
}

func newESClient(t *testing.T, handler http.HandlerFunc) *elasticsearch.Client {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{server.URL}})
	require.NoError(t, err)
	return client
}

type fakePublisher struct {
	topic   string
	subject string
	payload interface{}
	attrs   map[string]string
	calls   int
	err     error
}

func (f *fakePublisher) PublishJSON(_ context.Context, topicARN, subject string, payload interface{}, attributes map[string]string) (string, error) {
	f.calls++
	f.topic, f.subject, f.payload, f.attrs = topicARN, subject, payload, attributes
	if f.err != nil {
		return "", f.err
	}
	return "msg-1", nil
}

type recorderFunc func(context.Context, *models.AuditEntry) error

func (f recorderFunc) Record(ctx context.Context, e *models.AuditEntry) error { return f(ctx, e) }

// ==========================
// Elasticsearch
// ==========================

func TestESRecorder_Record(t *testing.T) {
	var path string
	var doc map[string]interface{}
	client := newESClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &doc)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})

	rec := NewESRecorder(client, "", logger.NewTestLogger(t))
	require.NoError(t, rec.Record(context.Background(), sampleEntry(models.OutcomeExecuted, models.OpUpdateMany)))

	assert.Equal(t, "/admin-ai-audit/_doc/audit-1", path)
	assert.Equal(t, "Fee", doc["entityName"])
	assert.Equal(t, "executed", doc["outcome"])
	assert.Equal(t, float64(3), doc["modified"])
}

func TestESRecorder_ErrorStatus(t *testing.T) {
	client := newESClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"mapper_parsing_exception"}`))
	})

	rec := NewESRecorder(client, "custom-audit", logger.NewTestLogger(t))
	err := rec.Record(context.Background(), sampleEntry(models.OutcomeText, ""))
	var stdErr *apperrors.StandardError
	require.True(t, errors.As(err, &stdErr))
	assert.Equal(t, apperrors.ErrCodeAuditWriteFailed, stdErr.Code)
	assert.Contains(t, stdErr.Details, "mapper_parsing_exception")
}

// ==========================
// SNS
// ==========================

func TestSNSRecorder_PublishesWritesOnly(t *testing.T) {
	pub := &fakePublisher{}
	rec := NewSNSRecorder(pub, "arn:aws:sns:us-east-1:123:admin-writes", logger.NewTestLogger(t))

	require.NoError(t, rec.Record(context.Background(), sampleEntry(models.OutcomeExecuted, models.OpFind)))
	require.NoError(t, rec.Record(context.Background(), sampleEntry(models.OutcomeFailed, models.OpUpdateOne)))
	assert.Zero(t, pub.calls)

	require.NoError(t, rec.Record(context.Background(), sampleEntry(models.OutcomeExecuted, models.OpUpdateMany)))
	assert.Equal(t, 1, pub.calls)
	assert.Equal(t, "arn:aws:sns:us-east-1:123:admin-writes", pub.topic)
	assert.Equal(t, "Fee updateMany", pub.subject)
	assert.Equal(t, map[string]string{"entity": "Fee", "operation": "updateMany"}, pub.attrs)
}

func TestSNSRecorder_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("throttled")}
	rec := NewSNSRecorder(pub, "arn", logger.NewTestLogger(t))

	err := rec.Record(context.Background(), sampleEntry(models.OutcomeExecuted, models.OpUpdateOne))
	var stdErr *apperrors.StandardError
	require.True(t, errors.As(err, &stdErr))
	assert.Equal(t, apperrors.ErrCodeNotificationError, stdErr.Code)
	assert.Contains(t, stdErr.Details, "throttled")
}

// ==========================
// Multi
// ==========================

func TestMulti_JoinsErrors(t *testing.T) {
	var seen int
	ok := recorderFunc(func(context.Context, *models.AuditEntry) error { seen++; return nil })
	bad := recorderFunc(func(context.Context, *models.AuditEntry) error { seen++; return errors.New("es down") })

	err := Multi{ok, nil, bad, Nop()}.Record(context.Background(), sampleEntry(models.OutcomeText, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "es down")
	assert.Equal(t, 2, seen)

	assert.NoError(t, Multi{ok}.Record(context.Background(), sampleEntry(models.OutcomeText, "")))
}
