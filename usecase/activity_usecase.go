package usecase

import (
	"context"

	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/infrastructure/logger"
)

type IActivityUsecase interface {
	repository.ISignaler
	List(ctx context.Context, kind model.EntityKind, entityID string, limit int) ([]model.ActivityEvent, error)
}

type activityUsecase struct {
	activity repository.IActivity
}

// NewActivityUsecase records every change signal it receives in the activity log.
func NewActivityUsecase(activity repository.IActivity) IActivityUsecase {
	return &activityUsecase{activity: activity}
}

func (u *activityUsecase) Signal(ctx context.Context, signal model.ChangeSignal) {
	event := &model.ActivityEvent{
		EntityKind:  signal.EntityKind,
		EntityID:    signal.EntityID,
		TimestampMs: signal.TimestampMs,
	}
	if err := u.activity.Record(ctx, event); err != nil {
		logger.GetLogger().WithFields(map[string]interface{}{
			"entityKind": signal.EntityKind,
			"entityId":   signal.EntityID,
			"error":      err,
		}).Error("could not record activity")
	}
}

func (u *activityUsecase) List(ctx context.Context, kind model.EntityKind, entityID string, limit int) ([]model.ActivityEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return u.activity.ListForEntity(ctx, kind, entityID, limit)
}
