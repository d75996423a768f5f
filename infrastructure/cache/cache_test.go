package cache_test

import (
	"context"
	"testing"
	"time"

	"post-mirror/domain/model"
	"post-mirror/infrastructure/cache"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func unreachable() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
}

func TestNewCache_UnreachableReturnsError(t *testing.T) {
	client, err := cache.NewCache(context.Background(), "127.0.0.1:1", "", "")
	assert.Error(t, err)
	assert.NotNil(t, client)
}

func TestSignalPublisher_SwallowsPublishErrors(t *testing.T) {
	pub := cache.NewSignalPublisher(unreachable(), "signals")
	assert.NotPanics(t, func() {
		pub.Signal(context.Background(), model.ChangeSignal{EntityKind: model.EntityPost, EntityID: "p1"})
	})
}

func TestDeduper_PropagatesErrors(t *testing.T) {
	d := cache.NewDeduper(unreachable(), "task:", time.Minute)
	ok, err := d.Claim(context.Background(), "parsePost:p1")
	assert.Error(t, err)
	assert.False(t, ok)
}
