package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	apperrors "hostel-assistant/internal/common/errors"
	"hostel-assistant/internal/common/logger"
	"hostel-assistant/internal/models"
)

const DefaultIndex = "admin-ai-audit"

// ESRecorder indexes entries as documents keyed by entry ID.
type ESRecorder struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewESRecorder(client *elasticsearch.Client, index string, log logger.Logger) *ESRecorder {
	if index == "" {
		index = DefaultIndex
	}
	return &ESRecorder{
		client: client,
		index:  index,
		logger: log.With(map[string]interface{}{"component": "audit-es"}),
	}
}

func (r *ESRecorder) Record(ctx context.Context, entry *models.AuditEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      r.index,
		DocumentID: entry.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, r.client)
	if err != nil {
		return apperrors.NewAuditWriteFailedError("elasticsearch", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return apperrors.NewAuditWriteFailedError("elasticsearch",
			fmt.Errorf("%s: %s", res.Status(), bytes.TrimSpace(msg)))
	}

	r.logger.Debug("audit entry indexed", map[string]interface{}{
		"id":      entry.ID,
		"outcome": string(entry.Outcome),
	})
	return nil
}
