package persistence

import (
	"context"

	"post-mirror/domain/model"
	"post-mirror/domain/repository"

	"gorm.io/gorm"
)

// ActivityRepository records change signals in MySQL through gorm.
type ActivityRepository struct{ db *gorm.DB }

func NewActivityRepository(db *gorm.DB) repository.IActivity {
	return &ActivityRepository{db: db}
}

// EnsureActivitySchema migrates the activity_events table.
func EnsureActivitySchema(db *gorm.DB) error {
	return db.AutoMigrate(&model.ActivityEvent{})
}

func (r *ActivityRepository) Record(ctx context.Context, event *model.ActivityEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *ActivityRepository) ListForEntity(ctx context.Context, kind model.EntityKind, entityID string, limit int) ([]model.ActivityEvent, error) {
	var events []model.ActivityEvent
	q := r.db.WithContext(ctx).
		Where("entity_kind = ? AND entity_id = ?", kind, entityID).
		Order("timestamp_ms desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
