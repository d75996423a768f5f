package model

type EntityKind string

const (
	EntityPost         EntityKind = "post"
	EntityPlatformPost EntityKind = "platform_post"
)

// ChangeSignal is a refetch hint for real-time listeners. It carries no values.
type ChangeSignal struct {
	EntityKind  EntityKind `json:"entityKind"`
	EntityID    string     `json:"entityId"`
	TimestampMs int64      `json:"timestamp"`
}

// ActivityEvent is the persisted audit row of a change signal.
type ActivityEvent struct {
	ID          uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	EntityKind  EntityKind `json:"entity_kind" gorm:"size:32;index"`
	EntityID    string     `json:"entity_id" gorm:"size:191;index"`
	TimestampMs int64      `json:"timestamp" gorm:"index"`
}

func (ActivityEvent) TableName() string { return "activity_events" }
