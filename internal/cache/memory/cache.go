// Package memory is an in-process BlobCache bounded by entry count, with a
// per-bucket time to live.
package memory

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type BlobCache struct {
	bucket  string
	entries *expirable.LRU[string, []byte]
}

// New returns a cache holding at most size entries (0 = unbounded) that
// expire ttl after being written (0 = never).
func New(bucket string, size int, ttl time.Duration) *BlobCache {
	return &BlobCache{
		bucket:  bucket,
		entries: expirable.NewLRU[string, []byte](size, nil, ttl),
	}
}

func (c *BlobCache) Bucket() string { return c.bucket }

func (c *BlobCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, ok := c.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (c *BlobCache) Put(_ context.Context, key string, data []byte) error {
	c.entries.Add(key, append([]byte(nil), data...))
	return nil
}

func (c *BlobCache) Delete(_ context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

func (c *BlobCache) Len() int {
	return c.entries.Len()
}

func (c *BlobCache) Ping(context.Context) error { return nil }
