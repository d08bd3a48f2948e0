package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"mediastream/internal/domain"
	"mediastream/internal/domain/ports"
	"mediastream/internal/metrics"
)

const (
	QualityCacheBucket = "cachedHlsQualityFiles"
	qualityKeyPrefix   = "hls_quality_"
)

// sentinelPattern marks a backend document reference inside quality files
// and alt doc file names.
var sentinelPattern = regexp.MustCompile(`mtproto:(\d+)`)

// QualityResolver serves quality files with every backend reference
// replaced by a local hls_stream/ URL.
type QualityResolver struct {
	Backend ports.Backend
	Cache   ports.BlobCache
	Logger  *slog.Logger

	// CacheWriteTimeout bounds the background cache write after a download.
	CacheWriteTimeout time.Duration

	flights *Synchronizer[string, []byte]
	writes  sync.WaitGroup
}

func NewQualityResolver(backend ports.Backend, cache ports.BlobCache, fetchTimeout time.Duration, logger *slog.Logger) *QualityResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &QualityResolver{
		Backend:           backend,
		Cache:             cache,
		Logger:            logger,
		CacheWriteTimeout: 10 * time.Second,
		flights:           NewSynchronizer[string, []byte]("hls_quality", nil, fetchTimeout),
	}
}

// Resolve returns the quality file of docID rewritten for local playback.
// Only the first sentinel is resolved; every sentinel in the file is
// replaced with that one target.
func (q *QualityResolver) Resolve(ctx context.Context, docID string, rc domain.RequestContext) (string, error) {
	raw, err := q.loadQualityFile(ctx, docID, rc.Account)
	if err != nil {
		return "", err
	}
	text := string(raw)

	match := sentinelPattern.FindStringSubmatch(text)
	if match == nil {
		return "", fmt.Errorf("%w: quality file %s has no mtproto reference", domain.ErrFormat, docID)
	}
	targetID := match[1]

	doc, err := q.Backend.RequestDoc(ctx, targetID, rc.Account)
	if err != nil {
		return "", wrapBackend(err)
	}
	streamURL, err := StreamURL(rc.BaseURL, domain.RemoteDocRef{
		DocID:    targetID,
		DCID:     doc.DCID,
		Size:     doc.Size,
		MimeType: doc.MimeType,
	})
	if err != nil {
		return "", err
	}
	return RewriteQualityFile(text, streamURL), nil
}

// RewriteQualityFile replaces every mtproto:<id> token with streamURL.
func RewriteQualityFile(text, streamURL string) string {
	return sentinelPattern.ReplaceAllLiteralString(text, streamURL)
}

func (q *QualityResolver) loadQualityFile(ctx context.Context, docID string, account domain.AccountNumber) ([]byte, error) {
	key := qualityKeyPrefix + docID
	return q.flights.PerformRequest(ctx, key, func(ctx context.Context) ([]byte, error) {
		if q.Cache != nil {
			data, ok, err := q.Cache.Get(ctx, key)
			switch {
			case err != nil:
				q.Logger.Warn("quality cache read failed", slog.String("key", key), slog.String("error", err.Error()))
			case ok:
				metrics.CacheLookupsTotal.WithLabelValues(QualityCacheBucket, "hit").Inc()
				return data, nil
			}
			metrics.CacheLookupsTotal.WithLabelValues(QualityCacheBucket, "miss").Inc()
		}

		data, err := q.Backend.DownloadDoc(ctx, docID, account)
		if err != nil {
			return nil, wrapBackend(err)
		}
		q.storeAsync(key, data)
		return data, nil
	})
}

func (q *QualityResolver) storeAsync(key string, data []byte) {
	if q.Cache == nil {
		return
	}
	q.writes.Add(1)
	go func() {
		defer q.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), q.CacheWriteTimeout)
		defer cancel()
		if err := q.Cache.Put(ctx, key, data); err != nil {
			metrics.CacheWriteErrorsTotal.WithLabelValues(QualityCacheBucket).Inc()
			q.Logger.Warn("quality cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}()
}
