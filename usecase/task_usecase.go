package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/infrastructure/logger"
	"post-mirror/infrastructure/tasks"
)

// Platforms with a fetch and a metrics queue.
var syncedPlatforms = []model.PlatformID{
	model.PlatformTwitter,
	model.PlatformMastodon,
	model.PlatformBluesky,
}

type FetchUserPostsPayload struct {
	UserID string `json:"userId"`
}

type ParsePostPayload struct {
	PostID string `json:"postId"`
}

// SyncPostMetricsPayload drives the metrics poll of one mirror. SyncNumber 0
// is a one-off refresh; from 1 on the task reschedules itself with backoff.
type SyncPostMetricsPayload struct {
	MirrorID   string `json:"mirrorId"`
	SyncNumber int    `json:"syncNumber"`
}

// BatchPayload resumes a batch task. FromCursor must match the stored
// cursor, otherwise the delivery is a duplicate and does nothing.
type BatchPayload struct {
	FromCursor string `json:"fromCursor"`
}

// TaskQueue is the enqueue side of the task engine.
type TaskQueue interface {
	Enqueue(ctx context.Context, name string, payload interface{}, opts ...tasks.EnqueueOption) error
}

// TaskRegistrar receives the handlers.
type TaskRegistrar interface {
	Register(name string, handler tasks.Handler)
}

type TaskSettings struct {
	BatchSize   int
	MetricsBase time.Duration
	MetricsMax  time.Duration
}

type TaskUsecase struct {
	store    repository.Store
	repos    Repositories
	manager  IPostsManager
	queue    TaskQueue
	settings TaskSettings
}

func NewTaskUsecase(store repository.Store, repos Repositories, manager IPostsManager, queue TaskQueue, settings TaskSettings) *TaskUsecase {
	if settings.BatchSize <= 0 {
		settings.BatchSize = 25
	}
	if settings.MetricsBase <= 0 {
		settings.MetricsBase = time.Hour
	}
	if settings.MetricsMax <= 0 {
		settings.MetricsMax = 7 * 24 * time.Hour
	}
	return &TaskUsecase{store: store, repos: repos, manager: manager, queue: queue, settings: settings}
}

func (u *TaskUsecase) Register(r TaskRegistrar) {
	r.Register(tasks.TaskParsePost, u.handleParsePost)
	r.Register(tasks.TaskAutofetchAllUsers, u.handleAutofetchAllUsers)
	r.Register(tasks.TaskSyncAllPostMetrics, u.handleSyncAllPostMetrics)
	for _, platform := range syncedPlatforms {
		platform := platform
		r.Register(tasks.FetchUserPostsTask(platform), func(ctx context.Context, data json.RawMessage) error {
			return u.handleFetchUserPosts(ctx, platform, data)
		})
		r.Register(tasks.SyncPostMetricsTask(platform), u.handleSyncPostMetrics)
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("empty task payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode task payload: %w", err)
	}
	return nil
}

func (u *TaskUsecase) handleFetchUserPosts(ctx context.Context, platform model.PlatformID, data json.RawMessage) error {
	var p FetchUserPostsPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	summary, err := u.manager.FetchForUser(ctx, p.UserID, FetchOptions{Platforms: []model.PlatformID{platform}})
	if err != nil {
		return err
	}
	if msg, failed := summary.Failed[platform]; failed {
		logger.GetLogger().WithFields(map[string]interface{}{
			"userId":   p.UserID,
			"platform": platform,
			"error":    msg,
		}).Warn("scheduled fetch failed, next trigger will retry")
	}
	return nil
}

func (u *TaskUsecase) handleParsePost(ctx context.Context, data json.RawMessage) error {
	var p ParsePostPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	_, err := u.manager.ParsePost(ctx, p.PostID)
	return err
}

func (u *TaskUsecase) handleSyncPostMetrics(ctx context.Context, data json.RawMessage) error {
	var p SyncPostMetricsPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	err := u.manager.SyncPostMetrics(ctx, p.MirrorID)
	if err != nil && !apperror.IsTransient(err) {
		return err
	}
	if p.SyncNumber > 0 {
		if rescheduleErr := u.rescheduleMetrics(ctx, p); rescheduleErr != nil {
			return rescheduleErr
		}
	}
	return err
}

func (u *TaskUsecase) rescheduleMetrics(ctx context.Context, p SyncPostMetricsPayload) error {
	delay, ok := tasks.NextMetricsSyncDelay(p.SyncNumber, u.settings.MetricsBase, u.settings.MetricsMax)
	if !ok {
		logger.GetLogger().WithFields(map[string]interface{}{
			"mirrorId":   p.MirrorID,
			"syncNumber": p.SyncNumber,
		}).Debug("metrics sync finished")
		return nil
	}
	platform, err := u.mirrorPlatform(ctx, p.MirrorID)
	if err != nil || platform == "" {
		return err
	}
	next := SyncPostMetricsPayload{MirrorID: p.MirrorID, SyncNumber: p.SyncNumber + 1}
	return u.queue.Enqueue(ctx, tasks.SyncPostMetricsTask(platform), next,
		tasks.WithDelay(delay),
		tasks.WithKey(fmt.Sprintf("%s:%d", next.MirrorID, next.SyncNumber)))
}

func (u *TaskUsecase) mirrorPlatform(ctx context.Context, mirrorID string) (model.PlatformID, error) {
	var platform model.PlatformID
	err := u.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		mirror, err := u.repos.PlatformPosts.Get(ctx, manager, mirrorID, false)
		if err != nil || mirror == nil {
			return err
		}
		platform = mirror.PlatformID
		return nil
	})
	return platform, err
}

func (u *TaskUsecase) handleAutofetchAllUsers(ctx context.Context, data json.RawMessage) error {
	var p BatchPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	return u.resumeBatch(ctx, tasks.TaskAutofetchAllUsers, p.FromCursor, func(ctx context.Context, manager repository.TransactionManager, after string, limit int) ([]string, []enqueueRequest, error) {
		users, err := u.repos.Users.GetBatchAfter(ctx, manager, after, limit)
		if err != nil {
			return nil, nil, err
		}
		ids := make([]string, 0, len(users))
		var work []enqueueRequest
		for _, user := range users {
			ids = append(ids, user.ID)
			for _, platform := range syncedPlatforms {
				if len(user.Accounts[platform]) == 0 {
					continue
				}
				work = append(work, enqueueRequest{
					name:    tasks.FetchUserPostsTask(platform),
					payload: FetchUserPostsPayload{UserID: user.ID},
					key:     user.ID,
				})
			}
		}
		return ids, work, nil
	})
}

func (u *TaskUsecase) handleSyncAllPostMetrics(ctx context.Context, data json.RawMessage) error {
	var p BatchPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	return u.resumeBatch(ctx, tasks.TaskSyncAllPostMetrics, p.FromCursor, func(ctx context.Context, manager repository.TransactionManager, after string, limit int) ([]string, []enqueueRequest, error) {
		posts, err := u.repos.Posts.GetBatchAfter(ctx, manager, after, limit)
		if err != nil {
			return nil, nil, err
		}
		ids := make([]string, 0, len(posts))
		var work []enqueueRequest
		for _, post := range posts {
			ids = append(ids, post.ID)
			for _, mirrorID := range post.MirrorIDs {
				mirror, err := u.repos.PlatformPosts.Get(ctx, manager, mirrorID, false)
				if err != nil {
					return nil, nil, err
				}
				if mirror == nil || !mirror.IsPosted() || !containsPlatform(syncedPlatforms, mirror.PlatformID) {
					continue
				}
				work = append(work, enqueueRequest{
					name:    tasks.SyncPostMetricsTask(mirror.PlatformID),
					payload: SyncPostMetricsPayload{MirrorID: mirror.ID},
					key:     mirror.ID + ":refresh",
				})
			}
		}
		return ids, work, nil
	})
}

type enqueueRequest struct {
	name    string
	payload interface{}
	key     string
}

type batchLoader func(ctx context.Context, manager repository.TransactionManager, after string, limit int) ([]string, []enqueueRequest, error)

// resumeBatch runs one batch of a resumable task: it reads the batch after
// the stored cursor, enqueues its work outside the unit of work, then
// advances the cursor and chains the next batch. A full cycle resets the
// cursor to the start.
func (u *TaskUsecase) resumeBatch(ctx context.Context, taskName, from string, load batchLoader) error {
	log := logger.GetLogger().WithFields(map[string]interface{}{
		"task":       taskName,
		"fromCursor": from,
	})

	var (
		ids   []string
		work  []enqueueRequest
		stale bool
	)
	err := u.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		meta, err := u.repos.TaskMeta.Get(ctx, manager, taskName)
		if err != nil {
			return err
		}
		stale = meta.LastBatchedPostID != from
		if stale {
			return nil
		}
		ids, work, err = load(ctx, manager, from, u.settings.BatchSize)
		return err
	})
	if err != nil {
		return err
	}
	if stale {
		log.Debug("batch already processed, skipping")
		return nil
	}

	for _, w := range work {
		if err := u.queue.Enqueue(ctx, w.name, w.payload, tasks.WithKey(w.key)); err != nil {
			return fmt.Errorf("batch %s: %w", taskName, err)
		}
	}

	next := ""
	if len(ids) == u.settings.BatchSize {
		next = ids[len(ids)-1]
	}
	advanced := false
	err = u.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		advanced = false
		meta, err := u.repos.TaskMeta.Get(ctx, manager, taskName)
		if err != nil {
			return err
		}
		if meta.LastBatchedPostID != from {
			return nil
		}
		meta.LastBatchedPostID = next
		meta.UpdatedAtMs = nowMs()
		advanced = true
		return u.repos.TaskMeta.Set(ctx, manager, meta)
	})
	if err != nil {
		return err
	}
	log.WithFields(map[string]interface{}{
		"items":    len(ids),
		"enqueued": len(work),
		"next":     next,
	}).Info("batch done")

	if advanced && next != "" {
		return u.queue.Enqueue(ctx, taskName, BatchPayload{FromCursor: next}, tasks.WithKey(next))
	}
	return nil
}

// Schedule starts or resumes both batch tasks from their stored cursor.
func (u *TaskUsecase) Schedule(ctx context.Context) error {
	for _, name := range []string{tasks.TaskAutofetchAllUsers, tasks.TaskSyncAllPostMetrics} {
		var cursor string
		err := u.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
			meta, err := u.repos.TaskMeta.Get(ctx, manager, name)
			if err != nil {
				return err
			}
			cursor = meta.LastBatchedPostID
			return nil
		})
		if err != nil {
			return err
		}
		if err := u.queue.Enqueue(ctx, name, BatchPayload{FromCursor: cursor}, tasks.WithKey(cursor)); err != nil {
			return err
		}
	}
	return nil
}

// PostCreated queues the parse of a freshly fetched post.
func (u *TaskUsecase) PostCreated(ctx context.Context, postID string) {
	if err := u.queue.Enqueue(ctx, tasks.TaskParsePost, ParsePostPayload{PostID: postID}, tasks.WithKey(postID)); err != nil {
		logger.GetLogger().WithFields(map[string]interface{}{
			"postId": postID,
			"error":  err,
		}).Error("could not enqueue parse")
	}
}

// MirrorPublished starts the metrics poll of a newly published mirror.
func (u *TaskUsecase) MirrorPublished(ctx context.Context, mirror PublishedMirror) {
	if !containsPlatform(syncedPlatforms, mirror.Platform) {
		return
	}
	delay, _ := tasks.NextMetricsSyncDelay(0, u.settings.MetricsBase, u.settings.MetricsMax)
	payload := SyncPostMetricsPayload{MirrorID: mirror.MirrorID, SyncNumber: 1}
	err := u.queue.Enqueue(ctx, tasks.SyncPostMetricsTask(mirror.Platform), payload,
		tasks.WithDelay(delay),
		tasks.WithKey(fmt.Sprintf("%s:%d", mirror.MirrorID, payload.SyncNumber)))
	if err != nil {
		logger.GetLogger().WithFields(map[string]interface{}{
			"mirrorId": mirror.MirrorID,
			"error":    err,
		}).Error("could not enqueue metrics sync")
	}
}
