package persistence

import (
	"context"
	"fmt"
	"time"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/infrastructure/db"
)

// credentialsDoc wraps credentials with their document key.
type credentialsDoc struct {
	ID                        string `bson:"_id"`
	model.PlatformCredentials `bson:",inline"`
}

// CredentialsDocumentRepository keeps credentials in the document store when no
// SQL database is configured. Each call runs its own short unit of work.
type CredentialsDocumentRepository struct {
	store repository.Store
}

func NewCredentialsDocumentRepository(store repository.Store) repository.ICredentials {
	return &CredentialsDocumentRepository{store: store}
}

func credentialsDocID(userID string, platform model.PlatformID) string {
	return fmt.Sprintf("%s-%s", userID, platform)
}

func (r *CredentialsDocumentRepository) GetCredentials(ctx context.Context, userID string, platform model.PlatformID) (*model.PlatformCredentials, error) {
	var out *model.PlatformCredentials
	err := r.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		doc, err := db.GetAs[credentialsDoc](ctx, manager, repository.CollectionCredentials, credentialsDocID(userID, platform))
		if err != nil {
			return err
		}
		if doc == nil {
			return apperror.NotFound("credentials", fmt.Sprintf("%s/%s", userID, platform))
		}
		out = &doc.PlatformCredentials
		return nil
	})
	return out, err
}

func (r *CredentialsDocumentRepository) UpsertCredentials(ctx context.Context, c *model.PlatformCredentials) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	id := credentialsDocID(c.UserID, c.Platform)
	return r.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		return manager.Set(ctx, repository.CollectionCredentials, id, credentialsDoc{ID: id, PlatformCredentials: *c})
	})
}
