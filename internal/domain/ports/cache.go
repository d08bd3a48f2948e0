package ports

import "context"

// BlobCache stores opaque blobs by name inside one logical bucket.
// A miss is reported as found == false with a nil error.
type BlobCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}
