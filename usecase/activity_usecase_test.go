package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"post-mirror/domain/model"
	"post-mirror/usecase"
)

type MockActivity struct {
	mock.Mock
}

func (m *MockActivity) Record(ctx context.Context, event *model.ActivityEvent) error {
	return m.Called(*event).Error(0)
}

func (m *MockActivity) ListForEntity(ctx context.Context, kind model.EntityKind, entityID string, limit int) ([]model.ActivityEvent, error) {
	args := m.Called(kind, entityID, limit)
	events, _ := args.Get(0).([]model.ActivityEvent)
	return events, args.Error(1)
}

func TestActivity_SignalRecordsEvent(t *testing.T) {
	activity := &MockActivity{}
	u := usecase.NewActivityUsecase(activity)
	activity.On("Record", model.ActivityEvent{EntityKind: model.EntityPost, EntityID: "p1", TimestampMs: 42}).Return(nil).Once()

	u.Signal(context.Background(), model.ChangeSignal{EntityKind: model.EntityPost, EntityID: "p1", TimestampMs: 42})
	activity.AssertExpectations(t)
}

func TestActivity_SignalSwallowsRecordError(t *testing.T) {
	activity := &MockActivity{}
	u := usecase.NewActivityUsecase(activity)
	activity.On("Record", mock.Anything).Return(errors.New("db down")).Once()

	assert.NotPanics(t, func() {
		u.Signal(context.Background(), model.ChangeSignal{EntityKind: model.EntityPlatformPost, EntityID: "m1"})
	})
}

func TestActivity_ListLimit(t *testing.T) {
	cases := []struct {
		name  string
		limit int
		want  int
	}{
		{name: "default", limit: 0, want: 50},
		{name: "explicit", limit: 10, want: 10},
		{name: "too large", limit: 1000, want: 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			activity := &MockActivity{}
			u := usecase.NewActivityUsecase(activity)
			activity.On("ListForEntity", model.EntityPost, "p1", tc.want).Return([]model.ActivityEvent{{ID: 1}}, nil).Once()

			events, err := u.List(context.Background(), model.EntityPost, "p1", tc.limit)
			require.NoError(t, err)
			assert.Len(t, events, 1)
			activity.AssertExpectations(t)
		})
	}
}
