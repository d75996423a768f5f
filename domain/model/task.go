package model

// TaskMeta is the persisted cursor of a resumable batch task, one per task name.
type TaskMeta struct {
	ID                string `json:"id" bson:"_id"`
	LastBatchedPostID string `json:"lastBatchedPostId" bson:"lastBatchedPostId"`
	UpdatedAtMs       int64  `json:"updatedAtMs" bson:"updatedAtMs"`
}
