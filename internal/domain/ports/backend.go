package ports

import (
	"context"

	"mediastream/internal/domain"
)

// Backend is the chunk-oriented file RPC surface.
type Backend interface {
	RequestFilePart(ctx context.Context, req domain.PartRequest) ([]byte, error)
	RequestDoc(ctx context.Context, docID string, account domain.AccountNumber) (domain.Doc, error)
	RequestAltDocsByDoc(ctx context.Context, docID string, account domain.AccountNumber) ([]domain.Doc, error)
	DownloadDoc(ctx context.Context, docID string, account domain.AccountNumber) ([]byte, error)
}
