package audit

import (
	"context"
	"fmt"

	apperrors "hostel-assistant/internal/common/errors"
	"hostel-assistant/internal/common/logger"
	"hostel-assistant/internal/models"
)

// Publisher is satisfied by aws.SNSClient.
type Publisher interface {
	PublishJSON(ctx context.Context, topicARN, subject string, payload interface{}, attributes map[string]string) (string, error)
}

// SNSRecorder announces executed updates on a topic. Reads are skipped.
type SNSRecorder struct {
	publisher Publisher
	topicARN  string
	logger    logger.Logger
}

func NewSNSRecorder(p Publisher, topicARN string, log logger.Logger) *SNSRecorder {
	return &SNSRecorder{
		publisher: p,
		topicARN:  topicARN,
		logger:    log.With(map[string]interface{}{"component": "audit-sns"}),
	}
}

func (r *SNSRecorder) Record(ctx context.Context, entry *models.AuditEntry) error {
	if !entry.IsWrite() {
		return nil
	}

	subject := fmt.Sprintf("%s %s", entry.EntityName, entry.Operation)
	id, err := r.publisher.PublishJSON(ctx, r.topicARN, subject, entry, map[string]string{
		"entity":    string(entry.EntityName),
		"operation": string(entry.Operation),
	})
	if err != nil {
		return apperrors.NewNotificationSendFailedError("sns", err)
	}

	r.logger.Info("admin write published", map[string]interface{}{
		"messageId": id,
		"entity":    string(entry.EntityName),
		"modified":  entry.Modified,
	})
	return nil
}
