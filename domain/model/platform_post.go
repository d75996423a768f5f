package model

import "fmt"

type PublishOrigin string

const (
	PublishOriginFetched PublishOrigin = "fetched"
	PublishOriginPosted  PublishOrigin = "posted"
)

type PostApproval string

const (
	PostApprovalPending  PostApproval = "pending"
	PostApprovalApproved PostApproval = "approved"
)

// PlatformPostPosted is a post as it exists on the platform.
type PlatformPostPosted struct {
	UserID      string `json:"user_id" bson:"user_id"`
	PostID      string `json:"post_id" bson:"post_id"`
	TimestampMs int64  `json:"timestamp" bson:"timestamp"`
	// Native holds the platform payload as JSON text.
	Native string `json:"native" bson:"native"`
}

// PlatformPostDraft is the payload intended for publishing.
type PlatformPostDraft struct {
	UnsignedPost string       `json:"unsignedPost" bson:"unsignedPost"`
	SignedPost   string       `json:"signedPost,omitempty" bson:"signedPost,omitempty"`
	PostApproval PostApproval `json:"postApproval" bson:"postApproval"`
	SignerType   string       `json:"signerType,omitempty" bson:"signerType,omitempty"`
	SignerID     string       `json:"signerId,omitempty" bson:"signerId,omitempty"`
	// AuthorUserID is the platform user id the draft will be published as.
	AuthorUserID string `json:"authorUserId" bson:"authorUserId"`
	// CreatedAtMs is set once when the draft is first prepared and kept on refresh.
	CreatedAtMs int64 `json:"createdAtMs,omitempty" bson:"createdAtMs,omitempty"`
}

// PlatformPost (mirror) is the representation of a post on one platform.
type PlatformPost struct {
	ID            string              `json:"id" bson:"_id"`
	PlatformID    PlatformID          `json:"platformId" bson:"platformId"`
	PostID        string              `json:"postId,omitempty" bson:"postId,omitempty"`
	PublishOrigin PublishOrigin       `json:"publishOrigin" bson:"publishOrigin"`
	Posted        *PlatformPostPosted `json:"posted,omitempty" bson:"posted,omitempty"`
	Draft         *PlatformPostDraft  `json:"draft,omitempty" bson:"draft,omitempty"`
	CreatedAtMs   int64               `json:"createdAtMs" bson:"createdAtMs"`
	UpdatedAtMs   int64               `json:"updatedAtMs" bson:"updatedAtMs"`
}

// IsPosted reports whether the mirror exists on the platform.
func (p *PlatformPost) IsPosted() bool { return p.Posted != nil }

// IsApprovedDraft reports whether the mirror is a draft waiting to be published.
func (p *PlatformPost) IsApprovedDraft() bool {
	return p.Posted == nil && p.Draft != nil && p.Draft.PostApproval == PostApprovalApproved
}

// MarkPosted replaces the draft with the published result.
func (p *PlatformPost) MarkPosted(posted PlatformPostPosted, nowMs int64) {
	p.Posted = &posted
	p.Draft = nil
	p.PublishOrigin = PublishOriginPosted
	p.UpdatedAtMs = nowMs
}

// PlatformPostDocID is the natural key of a mirror that exists on a platform.
func PlatformPostDocID(platform PlatformID, platformPostID string) string {
	return fmt.Sprintf("%s-%s", platform, platformPostID)
}

// DraftDocID is the key of the draft mirror of a post on a platform.
func DraftDocID(platform PlatformID, postID string) string {
	return fmt.Sprintf("%s-draft-%s", platform, postID)
}
