package student

import (
	"context"

	apperrors "hostel-assistant/internal/common/errors"
	"hostel-assistant/internal/models"
)

// contextEntities are the records a StudentContext is built from.
var contextEntities = map[models.EntityName]bool{
	models.EntityStudent:      true,
	models.EntityUser:         true,
	models.EntityRoom:         true,
	models.EntityAttendance:   true,
	models.EntityFee:          true,
	models.EntityNotification: true,
}

// InvalidateAll drops every cached student context.
func (l *ContextLoader) InvalidateAll(ctx context.Context) (int, error) {
	if l.cache == nil {
		return 0, nil
	}

	var dropped int
	iter := l.cache.Scan(ctx, 0, cacheKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := l.cache.Del(ctx, iter.Val()).Err(); err != nil {
			return dropped, apperrors.NewCacheFailedError(err)
		}
		dropped++
	}
	if err := iter.Err(); err != nil {
		return dropped, apperrors.NewCacheFailedError(err)
	}
	return dropped, nil
}

// StaleContextRecorder is an audit recorder that clears cached student
// contexts after an admin update changed records they are built from.
// The affected students are not known from the filter, so all are dropped.
type StaleContextRecorder struct {
	loader *ContextLoader
}

func NewStaleContextRecorder(loader *ContextLoader) *StaleContextRecorder {
	return &StaleContextRecorder{loader: loader}
}

func (r *StaleContextRecorder) Record(ctx context.Context, entry *models.AuditEntry) error {
	if !entry.IsWrite() || entry.Modified == 0 || !contextEntities[entry.EntityName] {
		return nil
	}

	dropped, err := r.loader.InvalidateAll(ctx)
	if err != nil {
		return err
	}
	r.loader.logger.Info("student contexts invalidated", map[string]interface{}{
		"entity":  string(entry.EntityName),
		"dropped": dropped,
	})
	return nil
}
