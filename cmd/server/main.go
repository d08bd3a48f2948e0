package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	apihttp "mediastream/internal/api/http"
	"mediastream/internal/app"
	"mediastream/internal/cache/memory"
	rediscache "mediastream/internal/cache/redis"
	"mediastream/internal/domain/ports"
	"mediastream/internal/metrics"
	mongorepo "mediastream/internal/repository/mongo"
	"mediastream/internal/telemetry"
	"mediastream/internal/usecase"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

const serviceName = "mediastream"

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Options{
		ServiceName: serviceName,
		Endpoint:    cfg.OTelEndpoint,
		SampleRate:  cfg.OTelSampleRate,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("cacheBackend", cfg.CacheBackend),
		slog.String("gridfsBucket", cfg.GridFSBucket),
		slog.Duration("streamTimeout", cfg.StreamTimeout),
		slog.Duration("hlsTimeout", cfg.HLSTimeout),
		slog.Int("fetchConcurrency", cfg.FetchConcurrency),
		slog.Int64("preloadBytes", cfg.PreloadBytes),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoClient, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	backend, err := mongorepo.NewGridFSBackend(mongoClient, cfg.MongoDatabase, cfg.GridFSBucket)
	if err != nil {
		logger.Error("gridfs bucket init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := backend.Ping(ctx); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := backend.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}

	caches, err := newCaches(ctx, cfg)
	if err != nil {
		logger.Error("cache init failed", slog.String("backend", cfg.CacheBackend), slog.String("error", err.Error()))
		os.Exit(1)
	}

	var limiter *rate.Limiter
	if cfg.BackendRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.BackendRPS), max(cfg.BackendBurst, 1))
	}
	fetcher := usecase.NewChunkFetcher(backend, cfg.FetchConcurrency, limiter, logger)
	legacy := usecase.NewLegacyStreams(fetcher, caches.chunks, usecase.LegacyStreamsConfig{
		IdleTimeout:        cfg.StreamIdleTimeout,
		PreloadBytes:       cfg.PreloadBytes,
		PreloadConcurrency: cfg.PreloadConcurrency,
		PartTimeout:        cfg.StreamTimeout,
	}, logger)

	handler := apihttp.NewServer(
		apihttp.WithLogger(logger),
		apihttp.WithStreamResponder(usecase.NewStreamResponder(fetcher, logger)),
		apihttp.WithQualityResolver(usecase.NewQualityResolver(backend, caches.quality, cfg.HLSTimeout, logger)),
		apihttp.WithPlaylistBuilder(usecase.NewPlaylistBuilder(backend, logger)),
		apihttp.WithLegacyStreams(legacy),
		apihttp.WithTimeouts(cfg.StreamTimeout, cfg.HLSTimeout),
		apihttp.WithBaseURL(cfg.PublicBaseURL),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		apihttp.WithHealthCheck("backend", backend.Ping),
		apihttp.WithHealthCheck("cache", caches.ping),
	)

	go broadcastStreams(rootCtx, handler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	legacy.Close()
	if caches.close != nil {
		if err := caches.close(); err != nil {
			logger.Warn("cache close error", slog.String("error", err.Error()))
		}
	}
	if err := mongoClient.Disconnect(context.Background()); err != nil {
		logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

type cacheSet struct {
	chunks  ports.BlobCache
	quality ports.BlobCache
	ping    apihttp.HealthCheck
	close   func() error
}

// newCaches builds the two cache buckets on the configured store.
func newCaches(ctx context.Context, cfg app.Config) (cacheSet, error) {
	switch cfg.CacheBackend {
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return cacheSet{}, err
		}
		chunks := rediscache.New(client, usecase.ChunkCacheBucket, cfg.ChunkCacheTTL)
		return cacheSet{
			chunks:  chunks,
			quality: rediscache.New(client, usecase.QualityCacheBucket, cfg.QualityCacheTTL),
			ping:    chunks.Ping,
			close:   client.Close,
		}, nil
	case "memory", "":
		chunks := memory.New(usecase.ChunkCacheBucket, cfg.CacheMaxEntries, cfg.ChunkCacheTTL)
		return cacheSet{
			chunks:  chunks,
			quality: memory.New(usecase.QualityCacheBucket, cfg.CacheMaxEntries, cfg.QualityCacheTTL),
			ping:    chunks.Ping,
		}, nil
	default:
		return cacheSet{}, errors.New("unknown cache backend " + cfg.CacheBackend)
	}
}

// broadcastStreams pushes the live stream list to WebSocket clients.
func broadcastStreams(ctx context.Context, handler *apihttp.Server) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			handler.BroadcastStreams()
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
