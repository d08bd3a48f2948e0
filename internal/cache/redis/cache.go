// Package redis stores cache buckets in Redis. Every bucket gets its own key
// prefix and time to live.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "mediastream:"

type BlobCache struct {
	client *goredis.Client
	bucket string
	ttl    time.Duration
}

// New returns the bucket view of client. ttl 0 keeps entries until Redis
// evicts them.
func New(client *goredis.Client, bucket string, ttl time.Duration) *BlobCache {
	return &BlobCache{client: client, bucket: bucket, ttl: ttl}
}

func (c *BlobCache) Bucket() string { return c.bucket }

func (c *BlobCache) key(key string) string {
	return keyPrefix + c.bucket + ":" + key
}

func (c *BlobCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (c *BlobCache) Put(ctx context.Context, key string, data []byte) error {
	return c.client.Set(ctx, c.key(key), data, c.ttl).Err()
}

func (c *BlobCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

func (c *BlobCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
