package repository

import (
	"context"

	"post-mirror/domain/model"
)

// IPlatform is the contract every platform adapter implements.
// Errors are always *apperror.TransientPlatformError or *apperror.FatalPlatformError.
type IPlatform interface {
	ID() model.PlatformID
	// Fetch accepts SinceID or UntilID, never both, and returns at most ExpectedAmount posts.
	Fetch(ctx context.Context, params model.FetchParams, account *model.AccountProfile, creds *model.PlatformCredentials) (*model.FetchResult, error)
	// Publish must not create two platform posts for the same draft.
	Publish(ctx context.Context, draft *model.PlatformPostDraft, creds *model.PlatformCredentials) (*model.PostedResult, error)
	// Get refreshes a posted item (metrics sync).
	Get(ctx context.Context, platformPostID string, creds *model.PlatformCredentials) (*model.PlatformPostPosted, error)
	ConvertToGeneric(posted *model.PlatformPostPosted) (*model.GenericPost, error)
	// ConvertFromGeneric prepares the draft payload of a post; unsupported platforms return apperror.ErrUnsupported.
	ConvertFromGeneric(post *model.AppPost, account *model.AccountProfile) (*model.PlatformPostDraft, error)
	HandleSignup(ctx context.Context, data model.SignupData) (*model.AccountDetails, error)
}

// IPlatformRegistry looks adapters up by id.
type IPlatformRegistry interface {
	Get(id model.PlatformID) (IPlatform, error)
	All() []IPlatform
}

// IParser is the external semantic parser.
type IParser interface {
	Parse(ctx context.Context, postID string, post model.GenericPost) (*model.ParsedPost, error)
}
