package model

// Triple is a semantic fact derived from a post's semantics.
type Triple struct {
	ID          string `json:"id" bson:"_id"`
	PostID      string `json:"postId" bson:"postId"`
	AuthorID    string `json:"authorId" bson:"authorId"`
	Subject     string `json:"subject" bson:"subject"`
	Predicate   string `json:"predicate" bson:"predicate"`
	Object      string `json:"object" bson:"object"`
	CreatedAtMs int64  `json:"createdAtMs" bson:"createdAtMs"`
}
