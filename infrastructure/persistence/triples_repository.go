package persistence

import (
	"context"
	"fmt"

	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/infrastructure/db"
)

type TriplesRepository struct{}

func NewTriplesRepository() repository.ITriples { return &TriplesRepository{} }

func (r *TriplesRepository) GetOfPost(ctx context.Context, manager repository.TransactionManager, postID string) ([]model.Triple, error) {
	return db.QueryAs[model.Triple](ctx, manager, repository.Query{
		Collection: repository.CollectionTriples,
		Where:      []repository.Condition{{Field: "postId", Op: repository.OpEq, Value: postID}},
	})
}

func (r *TriplesRepository) DeleteOfPost(ctx context.Context, manager repository.TransactionManager, postID string) error {
	triples, err := r.GetOfPost(ctx, manager, postID)
	if err != nil {
		return err
	}
	for _, t := range triples {
		if err := manager.Delete(ctx, repository.CollectionTriples, t.ID); err != nil {
			return fmt.Errorf("delete triple %s: %w", t.ID, err)
		}
	}
	return nil
}

func (r *TriplesRepository) Create(ctx context.Context, manager repository.TransactionManager, triple *model.Triple) error {
	return manager.Create(ctx, repository.CollectionTriples, triple.ID, triple)
}
