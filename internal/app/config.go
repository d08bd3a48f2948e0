package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr      string
	LogLevel      string
	LogFormat     string
	PublicBaseURL string // empty = derive from each request

	MongoURI      string
	MongoDatabase string
	GridFSBucket  string

	CacheBackend    string // memory | redis
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	CacheMaxEntries int
	ChunkCacheTTL   time.Duration
	QualityCacheTTL time.Duration // 0 = kept until the store evicts it

	StreamTimeout time.Duration
	HLSTimeout    time.Duration

	FetchConcurrency int // 1 = sequential part fetches
	BackendRPS       float64
	BackendBurst     int

	StreamIdleTimeout  time.Duration
	PreloadBytes       int64
	PreloadConcurrency int64

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	OTelEndpoint   string
	OTelSampleRate float64
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", "text")),
		PublicBaseURL: strings.TrimSuffix(getEnv("PUBLIC_BASE_URL", ""), "/"),

		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DB", "mediastream"),
		GridFSBucket:  getEnv("GRIDFS_BUCKET", "media"),

		CacheBackend:    strings.ToLower(getEnv("CACHE_BACKEND", "memory")),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         int(getEnvInt64("REDIS_DB", 0)),
		CacheMaxEntries: int(getEnvInt64("CACHE_MAX_ENTRIES", 4096)),
		ChunkCacheTTL:   getEnvDuration("CHUNK_CACHE_TTL", 24*time.Hour),
		QualityCacheTTL: getEnvDuration("QUALITY_CACHE_TTL", 0),

		StreamTimeout: getEnvDuration("STREAM_TIMEOUT", 45*time.Second),
		HLSTimeout:    getEnvDuration("HLS_TIMEOUT", 45*time.Second),

		FetchConcurrency: int(getEnvInt64("FETCH_CONCURRENCY", 1)),
		BackendRPS:       getEnvFloat("BACKEND_RPS", 0),
		BackendBurst:     int(getEnvInt64("BACKEND_BURST", 8)),

		StreamIdleTimeout:  getEnvDuration("STREAM_IDLE_TIMEOUT", 150*time.Second),
		PreloadBytes:       getEnvInt64("PRELOAD_BYTES", 20<<20),
		PreloadConcurrency: getEnvInt64("PRELOAD_CONCURRENCY", 2),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 200),
		RateLimitBurst:     int(getEnvInt64("RATE_LIMIT_BURST", 400)),

		OTelEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelSampleRate: getEnvFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go duration strings ("45s") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
