package student

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "hostel-assistant/internal/common/errors"
	"hostel-assistant/internal/common/logger"
	"hostel-assistant/internal/common/metrics"
	"hostel-assistant/internal/models"
	"hostel-assistant/internal/store"
)

var ErrStudentNotFound = errors.New("STUDENT_NOT_FOUND")

const (
	cacheKeyPrefix    = "ai:student:"
	attendanceWindow  = 30
	feeWindow         = 24
	notificationLimit = 5
)

// ContextLoader builds a StudentContext from the store and caches it in
// Redis. A nil cache disables caching.
type ContextLoader struct {
	store  store.Store
	cache  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewContextLoader(st store.Store, cache *redis.Client, ttl time.Duration, log logger.Logger) *ContextLoader {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ContextLoader{
		store:  st,
		cache:  cache,
		ttl:    ttl,
		logger: log.With(map[string]interface{}{"component": "student-context"}),
	}
}

func cacheKey(userID string) string {
	return cacheKeyPrefix + userID
}

// Load returns the context for the student linked to userID.
func (l *ContextLoader) Load(ctx context.Context, userID string) (*models.StudentContext, error) {
	if sc := l.cached(ctx, userID); sc != nil {
		return sc, nil
	}

	sc, err := l.build(ctx, userID)
	if err != nil {
		return nil, err
	}
	l.save(ctx, userID, sc)
	return sc, nil
}

// Invalidate drops the cached context for userID.
func (l *ContextLoader) Invalidate(ctx context.Context, userID string) error {
	if l.cache == nil {
		return nil
	}
	if err := l.cache.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return apperrors.NewCacheFailedError(err)
	}
	return nil
}

func (l *ContextLoader) cached(ctx context.Context, userID string) *models.StudentContext {
	if l.cache == nil {
		return nil
	}

	raw, err := l.cache.Get(ctx, cacheKey(userID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil
	case err != nil:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		l.logger.Warn("student context cache read failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
		return nil
	}

	var sc models.StudentContext
	if err := json.Unmarshal(raw, &sc); err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		l.logger.Warn("student context cache entry unreadable", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
		return nil
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return &sc
}

func (l *ContextLoader) save(ctx context.Context, userID string, sc *models.StudentContext) {
	if l.cache == nil {
		return
	}
	raw, err := json.Marshal(sc)
	if err == nil {
		err = l.cache.Set(ctx, cacheKey(userID), raw, l.ttl).Err()
	}
	if err != nil {
		l.logger.Warn("student context cache write failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
}

func (l *ContextLoader) build(ctx context.Context, userID string) (*models.StudentContext, error) {
	student, err := l.store.FindOne(ctx, models.EntityStudent, map[string]interface{}{"user": userID})
	if err != nil {
		return nil, fmt.Errorf("load student: %w", err)
	}
	if student == nil {
		return nil, fmt.Errorf("%w: no student for user %s", ErrStudentNotFound, userID)
	}
	studentID, _ := student["_id"].(string)

	sc := &models.StudentContext{StudentID: studentID}

	user, err := l.store.FindOne(ctx, models.EntityUser, map[string]interface{}{"_id": userID})
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if name, ok := user["name"].(string); ok {
		sc.Name = name
	}

	if roomID, ok := student["room"].(string); ok && roomID != "" {
		room, err := l.store.FindOne(ctx, models.EntityRoom, map[string]interface{}{"_id": roomID})
		if err != nil {
			return nil, fmt.Errorf("load room: %w", err)
		}
		if number, ok := room["number"].(string); ok {
			sc.Room = number
		}
	}

	sc.Attendance, err = l.store.Aggregate(ctx, models.EntityAttendance, []interface{}{
		map[string]interface{}{"$match": map[string]interface{}{"student": studentID}},
		map[string]interface{}{"$sort": map[string]interface{}{"date": float64(-1)}},
		map[string]interface{}{"$limit": float64(attendanceWindow)},
		map[string]interface{}{"$project": map[string]interface{}{"_id": float64(0), "date": float64(1), "status": float64(1)}},
	})
	if err != nil {
		return nil, fmt.Errorf("load attendance: %w", err)
	}

	sc.Fees, _, err = l.store.Find(ctx, models.EntityFee, map[string]interface{}{"student": studentID}, feeWindow)
	if err != nil {
		return nil, fmt.Errorf("load fees: %w", err)
	}
	for _, fee := range sc.Fees {
		delete(fee, "student")
	}

	sc.Notifications, err = l.store.Aggregate(ctx, models.EntityNotification, []interface{}{
		map[string]interface{}{"$match": map[string]interface{}{"$or": []interface{}{
			map[string]interface{}{"student": studentID},
			map[string]interface{}{"recipient": userID},
		}}},
		map[string]interface{}{"$sort": map[string]interface{}{"createdAt": float64(-1)}},
		map[string]interface{}{"$limit": float64(notificationLimit)},
		map[string]interface{}{"$project": map[string]interface{}{"_id": float64(0), "title": float64(1), "message": float64(1), "createdAt": float64(1)}},
	})
	if err != nil {
		return nil, fmt.Errorf("load notifications: %w", err)
	}

	l.logger.Debug("student context built", map[string]interface{}{
		"userId":        userID,
		"attendance":    len(sc.Attendance),
		"fees":          len(sc.Fees),
		"notifications": len(sc.Notifications),
	})
	return sc, nil
}
