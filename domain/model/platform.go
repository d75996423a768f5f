package model

// PlatformID identifies one of the supported external platforms.
type PlatformID string

const (
	PlatformTwitter  PlatformID = "twitter"
	PlatformMastodon PlatformID = "mastodon"
	PlatformBluesky  PlatformID = "bluesky"
	PlatformNanopub  PlatformID = "nanopub"
	PlatformOrcid    PlatformID = "orcid"
)

// AllPlatforms lists every platform the registry must serve.
var AllPlatforms = []PlatformID{
	PlatformTwitter,
	PlatformMastodon,
	PlatformBluesky,
	PlatformNanopub,
	PlatformOrcid,
}

// FetchParams bounds a single adapter fetch. SinceID and UntilID are exclusive.
type FetchParams struct {
	SinceID        string `json:"since_id,omitempty"`
	UntilID        string `json:"until_id,omitempty"`
	StartTimeMs    int64  `json:"start_time,omitempty"`
	ExpectedAmount int    `json:"expected_amount"`
}

// FetchResult is what an adapter returns for one account fetch.
type FetchResult struct {
	Posts   []PlatformPostPosted `json:"posts"`
	Fetched FetchedDetails       `json:"fetched"`
}

// GenericPost is the platform-agnostic shape produced by ConvertToGeneric.
type GenericPost struct {
	Content     string `json:"content"`
	URL         string `json:"url,omitempty"`
	TimestampMs int64  `json:"timestamp"`
	AuthorName  string `json:"author_name,omitempty"`
}

// PostedResult is returned by a successful publish.
type PostedResult = PlatformPostPosted

// SignupData is the raw credential material sent by the client when linking an account.
type SignupData map[string]string

// AccountDetails is what a platform reports back after a successful signup.
type AccountDetails struct {
	UserID      string              `json:"user_id"`
	DisplayName string              `json:"display_name"`
	Credentials PlatformCredentials `json:"-"`
}
