package model

type ParsingStatus string

const (
	ParsingUnprocessed ParsingStatus = "unprocessed"
	ParsingProcessing  ParsingStatus = "processing"
	ParsingProcessed   ParsingStatus = "processed"
	ParsingErrored     ParsingStatus = "errored"
)

// CanParse reports whether a post in this status may enter PROCESSING.
func (s ParsingStatus) CanParse() bool {
	return s == ParsingUnprocessed || s == ParsingErrored || s == ""
}

type ReviewedStatus string

const (
	ReviewedPending  ReviewedStatus = "pending"
	ReviewedDraft    ReviewedStatus = "draft"
	ReviewedIgnored  ReviewedStatus = "ignored"
	ReviewedApproved ReviewedStatus = "approved"
)

// CanTransitionTo enforces PENDING -> {DRAFT|IGNORED|APPROVED}, DRAFT -> APPROVED.
func (s ReviewedStatus) CanTransitionTo(next ReviewedStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case ReviewedPending, "":
		return next == ReviewedDraft || next == ReviewedIgnored || next == ReviewedApproved
	case ReviewedDraft:
		return next == ReviewedApproved || next == ReviewedIgnored
	case ReviewedIgnored:
		return next == ReviewedDraft || next == ReviewedApproved
	default:
		return false
	}
}

type RepublishedStatus string

const (
	RepublishedPending RepublishedStatus = "pending"
	Republished        RepublishedStatus = "republished"
	AutoRepublished    RepublishedStatus = "auto_republished"
)

// AppPost is the canonical, platform-agnostic post.
type AppPost struct {
	ID                string            `json:"id" bson:"_id"`
	AuthorUserID      string            `json:"authorUserId" bson:"authorUserId"`
	Origin            PlatformID        `json:"origin" bson:"origin"`
	CreatedAtMs       int64             `json:"createdAtMs" bson:"createdAtMs"`
	Content           string            `json:"content" bson:"content"`
	Semantics         string            `json:"semantics,omitempty" bson:"semantics,omitempty"`
	OriginalParsed    *ParsedPost       `json:"originalParsed,omitempty" bson:"originalParsed,omitempty"`
	ParsingStatus     ParsingStatus     `json:"parsingStatus" bson:"parsingStatus"`
	ReviewedStatus    ReviewedStatus    `json:"reviewedStatus" bson:"reviewedStatus"`
	RepublishedStatus RepublishedStatus `json:"republishedStatus" bson:"republishedStatus"`
	MirrorIDs         []string          `json:"mirrorIds" bson:"mirrorIds"`
}

// ParsedPost is the raw parser output kept for auditing.
type ParsedPost struct {
	Semantics string            `json:"semantics" bson:"semantics"`
	Support   map[string]string `json:"support,omitempty" bson:"support,omitempty"`
}

// PostUpdate carries the user-editable fields of a post; nil fields are untouched.
type PostUpdate struct {
	Content           *string            `json:"content,omitempty"`
	Semantics         *string            `json:"semantics,omitempty"`
	ReviewedStatus    *ReviewedStatus    `json:"reviewedStatus,omitempty"`
	RepublishedStatus *RepublishedStatus `json:"republishedStatus,omitempty"`
}

// PostUpdatePayload is the wire payload of a post update. Platforms lists
// the draft mirrors the author approves for publishing with this update.
type PostUpdatePayload struct {
	PostID    string       `json:"postId"`
	Update    PostUpdate   `json:"update"`
	Platforms []PlatformID `json:"platforms,omitempty"`
}

// AggregatedLabel counts how often a semantic label occurs in a post's triples.
type AggregatedLabel struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// AppPostFull is a post with its mirrors and optional aggregated labels resolved.
type AppPostFull struct {
	AppPost
	Mirrors []PlatformPost    `json:"mirrors,omitempty"`
	Labels  []AggregatedLabel `json:"labels,omitempty"`
}

// Mirror returns the resolved mirror for a platform, if any.
func (p *AppPostFull) Mirror(platform PlatformID) *PlatformPost {
	for i := range p.Mirrors {
		if p.Mirrors[i].PlatformID == platform {
			return &p.Mirrors[i]
		}
	}
	return nil
}
