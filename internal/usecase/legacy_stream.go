package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"mediastream/internal/domain"
	"mediastream/internal/domain/ports"
	"mediastream/internal/metrics"
	"mediastream/internal/ranges"
)

const ChunkCacheBucket = "cachedStreamChunks"

const defaultIdleTimeout = 150 * time.Second

// LegacyStreamsConfig tunes the stream/ route.
type LegacyStreamsConfig struct {
	IdleTimeout        time.Duration
	PreloadBytes       int64
	PreloadConcurrency int64
	// PartTimeout bounds one shared backend part request.
	PartTimeout time.Duration
}

// StreamInfo is a snapshot of one live stream.
type StreamInfo struct {
	ID      string `json:"id"`
	DocID   string `json:"docId"`
	Account int    `json:"account"`
	Size    int64  `json:"size"`
	InUse   int    `json:"inUse"`
}

// LegacyStreams is the registry behind the stream/ route. It keeps one
// Stream per account and document so parts already requested or cached are
// reused across range requests.
type LegacyStreams struct {
	Fetcher *ChunkFetcher
	Cache   ports.BlobCache
	Logger  *slog.Logger

	cfg     LegacyStreamsConfig
	parts   *Synchronizer[domain.PartRequest, []byte]
	preload *semaphore.Weighted

	mu      sync.Mutex
	streams map[string]*Stream

	// bg tracks preloads and cache writes.
	bg sync.WaitGroup
}

func NewLegacyStreams(fetcher *ChunkFetcher, cache ports.BlobCache, cfg LegacyStreamsConfig, logger *slog.Logger) *LegacyStreams {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.PreloadBytes < 0 {
		cfg.PreloadBytes = 0
	}
	if cfg.PreloadConcurrency <= 0 {
		cfg.PreloadConcurrency = 2
	}
	return &LegacyStreams{
		Fetcher: fetcher,
		Cache:   cache,
		Logger:  logger,
		cfg:     cfg,
		parts:   NewSynchronizer[domain.PartRequest, []byte]("file_part", partKey, cfg.PartTimeout),
		preload: semaphore.NewWeighted(cfg.PreloadConcurrency),
		streams: make(map[string]*Stream),
	}
}

func partKey(req domain.PartRequest) string {
	return fmt.Sprintf("%d:%s:%d:%d:%d", req.Account, req.DocID, req.DCID, req.Offset, req.Limit)
}

// Serve answers one Range request of the stream/ route. The account the
// request runs under always comes from rc.
func (l *LegacyStreams) Serve(ctx context.Context, rangeHeader string, opts domain.DownloadOptions, rc domain.RequestContext) (Response, error) {
	opts.AccountNumber = rc.Account
	return l.Get(opts).RequestRange(ctx, ranges.ParseHeader(rangeHeader))
}

// Get returns the live stream for opts or registers a new one.
func (l *LegacyStreams) Get(opts domain.DownloadOptions) *Stream {
	id := StreamID(opts)

	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.streams[id]; ok {
		return s
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		owner:  l,
		id:     id,
		opts:   opts,
		policy: ranges.NewLegacyPolicy(opts.Size),
		ctx:    ctx,
		cancel: cancel,
		loaded: make(map[int64]struct{}),
	}
	s.idle = time.AfterFunc(l.cfg.IdleTimeout, s.destroy)
	l.streams[id] = s
	metrics.ActiveStreams.Inc()
	l.Logger.Debug("stream opened", slog.String("stream", id), slog.Int64("size", opts.Size), slog.Int64("partLimit", s.policy.PartLimit))
	return s
}

// ToggleInUse applies an in-use report for the stream behind a stream/ URL.
func (l *LegacyStreams) ToggleInUse(streamURL string, inUse bool, account domain.AccountNumber) error {
	path, _, _ := strings.Cut(streamURL, "?")
	idx := strings.Index(path, RouteStream)
	if idx < 0 {
		return fmt.Errorf("%w: %q is not a stream url", domain.ErrInvalidInput, streamURL)
	}
	opts, err := ParseDownloadOptions(path[idx+len(RouteStream):])
	if err != nil {
		return err
	}
	opts.AccountNumber = account
	l.Get(opts).toggleInUse(inUse)
	return nil
}

func (l *LegacyStreams) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.streams)
}

// Snapshot lists live streams ordered by id.
func (l *LegacyStreams) Snapshot() []StreamInfo {
	l.mu.Lock()
	list := make([]*Stream, 0, len(l.streams))
	for _, s := range l.streams {
		list = append(list, s)
	}
	l.mu.Unlock()

	out := make([]StreamInfo, 0, len(list))
	for _, s := range list {
		s.mu.Lock()
		inUse := s.inUse
		s.mu.Unlock()
		out = append(out, StreamInfo{
			ID:      s.id,
			DocID:   s.opts.DocID(),
			Account: int(s.opts.AccountNumber),
			Size:    s.opts.Size,
			InUse:   inUse,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close destroys every stream and waits for background work to finish.
func (l *LegacyStreams) Close() {
	l.mu.Lock()
	list := make([]*Stream, 0, len(l.streams))
	for _, s := range l.streams {
		list = append(list, s)
	}
	l.mu.Unlock()

	for _, s := range list {
		s.destroy()
	}
	l.bg.Wait()
}

// Wait blocks until pending preloads and cache writes are done.
func (l *LegacyStreams) Wait() {
	l.bg.Wait()
}

func (l *LegacyStreams) remove(s *Stream) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.streams[s.id]; !ok || cur != s {
		return false
	}
	delete(l.streams, s.id)
	metrics.ActiveStreams.Dec()
	return true
}

// StreamID is the registry key of a stream: "<account>-<docId>".
func StreamID(opts domain.DownloadOptions) string {
	return strconv.Itoa(int(opts.AccountNumber)) + "-" + opts.DocID()
}

// Stream serves ranges of one document for one account.
type Stream struct {
	owner  *LegacyStreams
	id     string
	opts   domain.DownloadOptions
	policy ranges.LegacyPolicy

	// ctx is cancelled when the stream is destroyed; preloads run under it.
	ctx    context.Context
	cancel context.CancelFunc
	idle   *time.Timer

	mu     sync.Mutex
	loaded map[int64]struct{}
	inUse  int
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) RequestRange(ctx context.Context, r domain.ByteRange) (Response, error) {
	s.idle.Reset(s.owner.cfg.IdleTimeout)

	if ranges.IsSafariProbe(r) {
		metrics.SafariProbesTotal.Inc()
		return safariProbeResponse(s.opts.MimeType, s.opts.Size), nil
	}
	size := s.opts.Size
	if size > 0 && r.Start >= size {
		return Response{}, fmt.Errorf("%w: start %d, size %d", domain.ErrRangeNotSatisfiable, r.Start, size)
	}

	plan := s.policy.Plan(r, size)
	buf, err := s.owner.Fetcher.Concat(ctx, func(ctx context.Context, unit domain.FetchUnit) ([]byte, error) {
		return s.requestPart(ctx, unit, false)
	}, plan.Units)
	if err != nil {
		return Response{}, err
	}

	body := plan.Slice(buf)
	if len(body) == 0 {
		return Response{}, fmt.Errorf("%w: stream %s returned %d bytes for offset %d", domain.ErrShortRead, s.id, len(buf), plan.AlignedOffset)
	}
	return partialContent(body, r.Start, size, s.opts.MimeType), nil
}

func (s *Stream) requestPart(ctx context.Context, unit domain.FetchUnit, fromPreload bool) ([]byte, error) {
	key := s.chunkKey(unit)
	if data, ok := s.cachedPart(ctx, key); ok {
		return data, nil
	}

	s.markLoaded(unit.Offset)
	req := domain.PartRequest{
		DocID:   s.opts.DocID(),
		DCID:    s.opts.DCID,
		Account: s.opts.AccountNumber,
		Offset:  unit.Offset,
		Limit:   unit.Limit,
	}
	data, err := s.owner.parts.PerformRequest(ctx, req, func(ctx context.Context) ([]byte, error) {
		data, err := s.owner.Fetcher.FetchPart(ctx, PartSource{DocID: req.DocID, DCID: req.DCID, Account: req.Account}, unit)
		if err != nil {
			return nil, err
		}
		s.storePart(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	if !fromPreload {
		s.preloadAfter(unit.Offset + unit.Limit)
	}
	return data, nil
}

func (s *Stream) cachedPart(ctx context.Context, key string) ([]byte, bool) {
	cache := s.owner.Cache
	if cache == nil {
		return nil, false
	}
	data, ok, err := cache.Get(ctx, key)
	if err != nil {
		s.owner.Logger.Warn("chunk cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	if !ok {
		metrics.CacheLookupsTotal.WithLabelValues(ChunkCacheBucket, "miss").Inc()
		return nil, false
	}
	metrics.CacheLookupsTotal.WithLabelValues(ChunkCacheBucket, "hit").Inc()
	return data, true
}

func (s *Stream) storePart(key string, data []byte) {
	cache := s.owner.Cache
	if cache == nil {
		return
	}
	s.owner.bg.Add(1)
	go func() {
		defer s.owner.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := cache.Put(ctx, key, data); err != nil {
			metrics.CacheWriteErrorsTotal.WithLabelValues(ChunkCacheBucket).Inc()
			s.owner.Logger.Warn("chunk cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}()
}

// preloadAfter warms the parts following from into the chunk cache.
func (s *Stream) preloadAfter(from int64) {
	budget := s.owner.cfg.PreloadBytes
	if budget <= 0 || s.owner.Cache == nil {
		return
	}
	limit := s.policy.PartLimit
	offset := from - from%limit
	end := from + budget
	if s.opts.Size > 0 {
		end = min(end, s.opts.Size)
	}

	for ; offset < end; offset += limit {
		if !s.claimOffset(offset) {
			continue
		}
		unit := domain.FetchUnit{Offset: offset, Limit: limit}
		s.owner.bg.Add(1)
		go func() {
			defer s.owner.bg.Done()
			if err := s.owner.preload.Acquire(s.ctx, 1); err != nil {
				return
			}
			defer s.owner.preload.Release(1)
			if _, err := s.requestPart(s.ctx, unit, true); err != nil {
				if s.ctx.Err() == nil {
					s.owner.Logger.Debug("preload failed", slog.String("stream", s.id), slog.Int64("offset", unit.Offset), slog.String("error", err.Error()))
				}
				return
			}
			metrics.PreloadedPartsTotal.Inc()
		}()
	}
}

func (s *Stream) markLoaded(offset int64) {
	s.mu.Lock()
	s.loaded[offset] = struct{}{}
	s.mu.Unlock()
}

// claimOffset marks offset as requested and reports whether it was new.
func (s *Stream) claimOffset(offset int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loaded[offset]; ok {
		return false
	}
	s.loaded[offset] = struct{}{}
	return true
}

func (s *Stream) toggleInUse(inUse bool) {
	s.mu.Lock()
	if inUse {
		s.inUse++
	} else {
		s.inUse--
	}
	idle := s.inUse == 0
	s.mu.Unlock()

	if idle {
		s.destroy()
	}
}

func (s *Stream) destroy() {
	s.idle.Stop()
	s.cancel()
	if s.owner.remove(s) {
		s.owner.Logger.Debug("stream closed", slog.String("stream", s.id))
	}
}

func (s *Stream) chunkKey(unit domain.FetchUnit) string {
	return s.id + "?offset=" + strconv.FormatInt(unit.Offset, 10) + "&limit=" + strconv.FormatInt(unit.Limit, 10)
}

// safariProbeResponse answers the bytes=0-1 probe with two zero bytes.
func safariProbeResponse(mimeType string, size int64) Response {
	if mimeType == "" {
		mimeType = "video/mp4"
	}
	header := http.Header{}
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Range", "bytes 0-1/"+totalSize(size))
	header.Set("Content-Length", "2")
	header.Set("Content-Type", mimeType)
	return Response{Status: http.StatusPartialContent, Header: header, Body: make([]byte, 2)}
}
