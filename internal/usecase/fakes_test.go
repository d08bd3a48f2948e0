package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mediastream/internal/domain"
)

type fakeBackend struct {
	mu      sync.Mutex
	files   map[string][]byte
	docs    map[string]domain.Doc
	altDocs map[string][]domain.Doc

	partDelay func(req domain.PartRequest) time.Duration
	partErr   error

	// downloadStarted receives a value when DownloadDoc is entered;
	// downloadGate, when set, holds DownloadDoc until closed.
	downloadStarted chan struct{}
	downloadGate    chan struct{}

	partCalls     atomic.Int64
	docCalls      atomic.Int64
	downloadCalls atomic.Int64
	requested     []domain.PartRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		files:   make(map[string][]byte),
		docs:    make(map[string]domain.Doc),
		altDocs: make(map[string][]domain.Doc),
	}
}

func (b *fakeBackend) RequestFilePart(ctx context.Context, req domain.PartRequest) ([]byte, error) {
	b.partCalls.Add(1)
	b.mu.Lock()
	b.requested = append(b.requested, req)
	data, ok := b.files[req.DocID]
	delay := b.partDelay
	b.mu.Unlock()

	if delay != nil {
		select {
		case <-time.After(delay(req)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.partErr != nil {
		return nil, b.partErr
	}
	if !ok {
		return nil, fmt.Errorf("file %s: %w", req.DocID, domain.ErrNotFound)
	}
	if req.Offset >= int64(len(data)) {
		return []byte{}, nil
	}
	end := min(req.Offset+req.Limit, int64(len(data)))
	out := make([]byte, end-req.Offset)
	copy(out, data[req.Offset:end])
	return out, nil
}

func (b *fakeBackend) RequestDoc(_ context.Context, docID string, _ domain.AccountNumber) (domain.Doc, error) {
	b.docCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.docs[docID]
	if !ok {
		return domain.Doc{}, fmt.Errorf("doc %s: %w", docID, domain.ErrNotFound)
	}
	return doc, nil
}

func (b *fakeBackend) RequestAltDocsByDoc(_ context.Context, docID string, _ domain.AccountNumber) ([]domain.Doc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.altDocs[docID], nil
}

func (b *fakeBackend) DownloadDoc(ctx context.Context, docID string, _ domain.AccountNumber) ([]byte, error) {
	b.downloadCalls.Add(1)
	if b.downloadStarted != nil {
		select {
		case b.downloadStarted <- struct{}{}:
		default:
		}
	}
	if b.downloadGate != nil {
		select {
		case <-b.downloadGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[docID]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", docID, domain.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (b *fakeBackend) requests() []domain.PartRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.PartRequest(nil), b.requested...)
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	putErr  error
	gets    atomic.Int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.gets.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	return data, ok, nil
}

func (c *fakeCache) Put(_ context.Context, key string, data []byte) error {
	if c.putErr != nil {
		return c.putErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append([]byte(nil), data...)
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// patterned returns n bytes whose value depends on position, so misplaced
// slices are detected.
func patterned(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 251)
	}
	return out
}
