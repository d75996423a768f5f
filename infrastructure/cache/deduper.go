package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper claims task keys for a TTL so redeliveries inside that window are dropped.
type Deduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewDeduper(client redis.UniversalClient, prefix string, ttl time.Duration) *Deduper {
	return &Deduper{client: client, prefix: prefix, ttl: ttl}
}

// Claim reports true for the first caller of a key within the TTL.
func (d *Deduper) Claim(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+key, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
}

// Release drops a claim, letting a failed task be enqueued again.
func (d *Deduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.prefix+key).Err()
}
