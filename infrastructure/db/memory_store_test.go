package db_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/infrastructure/db"
)

type recordingSignaler struct {
	mu      sync.Mutex
	signals []model.ChangeSignal
}

func (r *recordingSignaler) Signal(ctx context.Context, signal model.ChangeSignal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, signal)
}

func TestMemoryStore_CommitAndRead(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()

	err := store.Run(ctx, func(ctx context.Context, m repository.TransactionManager) error {
		return m.Create(ctx, repository.CollectionPosts, "p1", &model.AppPost{ID: "p1", Content: "hello", CreatedAtMs: 10})
	})
	require.NoError(t, err)

	err = store.Run(ctx, func(ctx context.Context, m repository.TransactionManager) error {
		post, err := db.GetAs[model.AppPost](ctx, m, repository.CollectionPosts, "p1")
		require.NoError(t, err)
		require.NotNil(t, post)
		assert.Equal(t, "hello", post.Content)

		missing, err := db.GetAs[model.AppPost](ctx, m, repository.CollectionPosts, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	boom := errors.New("boom")

	err := store.Run(ctx, func(ctx context.Context, m repository.TransactionManager) error {
		require.NoError(t, m.Set(ctx, repository.CollectionPosts, "p1", &model.AppPost{ID: "p1"}))
		require.NoError(t, m.Set(ctx, repository.CollectionPlatformPosts, "m1", &model.PlatformPost{ID: "m1"}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.Count(repository.CollectionPosts))
	assert.Equal(t, 0, store.Count(repository.CollectionPlatformPosts))
}

func TestMemoryStore_CreateRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	create := func() error {
		return store.Run(ctx, func(ctx context.Context, m repository.TransactionManager) error {
			return m.Create(ctx, repository.CollectionPosts, "p1", &model.AppPost{ID: "p1"})
		})
	}
	require.NoError(t, create())
	require.Error(t, create())
}

func TestMemoryStore_RejectsIDMismatch(t *testing.T) {
	store := db.NewMemoryStore()
	err := store.Run(context.Background(), func(ctx context.Context, m repository.TransactionManager) error {
		return m.Set(ctx, repository.CollectionPosts, "p1", &model.AppPost{ID: "p2"})
	})
	require.Error(t, err)
}

func TestMemoryStore_QueryFilterOrderLimit(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	require.NoError(t, store.Run(ctx, func(ctx context.Context, m repository.TransactionManager) error {
		for _, p := range []model.AppPost{
			{ID: "c", AuthorUserID: "u1", ParsingStatus: model.ParsingErrored},
			{ID: "a", AuthorUserID: "u1", ParsingStatus: model.ParsingProcessed},
			{ID: "b", AuthorUserID: "u2", ParsingStatus: model.ParsingUnprocessed},
			{ID: "d", AuthorUserID: "u1", ParsingStatus: model.ParsingUnprocessed},
		} {
			p := p
			if err := m.Create(ctx, repository.CollectionPosts, p.ID, &p); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, store.Run(ctx, func(ctx context.Context, m repository.TransactionManager) error {
		posts, err := db.QueryAs[model.AppPost](ctx, m, repository.Query{
			Collection: repository.CollectionPosts,
			Where:      []repository.Condition{{Field: "authorUserId", Op: repository.OpEq, Value: "u1"}},
		})
		require.NoError(t, err)
		require.Len(t, posts, 3)
		assert.Equal(t, []string{"a", "c", "d"}, []string{posts[0].ID, posts[1].ID, posts[2].ID})

		after, err := db.QueryAs[model.AppPost](ctx, m, repository.Query{
			Collection: repository.CollectionPosts,
			Where:      []repository.Condition{{Field: "_id", Op: repository.OpGt, Value: "b"}},
			Limit:      1,
		})
		require.NoError(t, err)
		require.Len(t, after, 1)
		assert.Equal(t, "c", after[0].ID)

		eligible, err := db.QueryAs[model.AppPost](ctx, m, repository.Query{
			Collection: repository.CollectionPosts,
			Where: []repository.Condition{{
				Field: "parsingStatus",
				Op:    repository.OpIn,
				Value: []model.ParsingStatus{model.ParsingUnprocessed, model.ParsingErrored},
			}},
		})
		require.NoError(t, err)
		assert.Len(t, eligible, 3)
		return nil
	}))
}

func TestMemoryStore_ReadsOwnWritesAndDeletes(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	require.NoError(t, store.Run(ctx, func(ctx context.Context, m repository.TransactionManager) error {
		return m.Set(ctx, repository.CollectionTriples, "t1", &model.Triple{ID: "t1", PostID: "p1"})
	}))
	require.NoError(t, store.Run(ctx, func(ctx context.Context, m repository.TransactionManager) error {
		require.NoError(t, m.Delete(ctx, repository.CollectionTriples, "t1"))
		require.NoError(t, m.Set(ctx, repository.CollectionTriples, "t2", &model.Triple{ID: "t2", PostID: "p1"}))
		triples, err := db.QueryAs[model.Triple](ctx, m, repository.Query{
			Collection: repository.CollectionTriples,
			Where:      []repository.Condition{{Field: "postId", Value: "p1"}},
		})
		require.NoError(t, err)
		require.Len(t, triples, 1)
		assert.Equal(t, "t2", triples[0].ID)
		return nil
	}))
	assert.Equal(t, 1, store.Count(repository.CollectionTriples))
}

func TestMemoryStore_SignalsPostAndMirrorWritesAfterCommit(t *testing.T) {
	ctx := context.Background()
	signaler := &recordingSignaler{}
	store := db.NewMemoryStore().WithSignaler(signaler)

	require.NoError(t, store.Run(ctx, func(ctx context.Context, m repository.TransactionManager) error {
		require.NoError(t, m.Set(ctx, repository.CollectionPosts, "p1", &model.AppPost{ID: "p1"}))
		require.NoError(t, m.Set(ctx, repository.CollectionPosts, "p1", &model.AppPost{ID: "p1", Content: "x"}))
		require.NoError(t, m.Set(ctx, repository.CollectionPlatformPosts, "m1", &model.PlatformPost{ID: "m1"}))
		require.NoError(t, m.Set(ctx, repository.CollectionTaskMeta, "task", &model.TaskMeta{ID: "task"}))
		assert.Empty(t, signaler.signals)
		return nil
	}))

	require.Len(t, signaler.signals, 2)
	assert.Equal(t, model.EntityPost, signaler.signals[0].EntityKind)
	assert.Equal(t, "p1", signaler.signals[0].EntityID)
	assert.Equal(t, model.EntityPlatformPost, signaler.signals[1].EntityKind)

	_ = store.Run(ctx, func(ctx context.Context, m repository.TransactionManager) error {
		_ = m.Set(ctx, repository.CollectionPosts, "p2", &model.AppPost{ID: "p2"})
		return errors.New("rollback")
	})
	assert.Len(t, signaler.signals, 2)
}

func TestMemoryStore_ConcurrentUnitsOfWorkAreSerialized(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	require.NoError(t, store.Run(ctx, func(ctx context.Context, m repository.TransactionManager) error {
		return m.Set(ctx, repository.CollectionTaskMeta, "counter", &model.TaskMeta{ID: "counter"})
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Run(ctx, func(ctx context.Context, m repository.TransactionManager) error {
				meta, err := db.GetAs[model.TaskMeta](ctx, m, repository.CollectionTaskMeta, "counter")
				if err != nil {
					return err
				}
				meta.UpdatedAtMs++
				return m.Set(ctx, repository.CollectionTaskMeta, "counter", meta)
			})
		}()
	}
	wg.Wait()

	require.NoError(t, store.Run(ctx, func(ctx context.Context, m repository.TransactionManager) error {
		meta, err := db.GetAs[model.TaskMeta](ctx, m, repository.CollectionTaskMeta, "counter")
		require.NoError(t, err)
		assert.Equal(t, int64(20), meta.UpdatedAtMs)
		return nil
	}))
}
