package apihttp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mediastream/internal/domain"
	"mediastream/internal/usecase"
)

type StreamResponder interface {
	Respond(ctx context.Context, rangeHeader string, ref domain.RemoteDocRef, rc domain.RequestContext) (usecase.Response, error)
}

type QualityResolver interface {
	Resolve(ctx context.Context, docID string, rc domain.RequestContext) (string, error)
}

type PlaylistBuilder interface {
	Build(ctx context.Context, opts domain.DownloadOptions, rc domain.RequestContext) (io.Reader, error)
}

type LegacyStreams interface {
	Serve(ctx context.Context, rangeHeader string, opts domain.DownloadOptions, rc domain.RequestContext) (usecase.Response, error)
	ToggleInUse(streamURL string, inUse bool, account domain.AccountNumber) error
	Snapshot() []usecase.StreamInfo
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

const defaultRouteTimeout = 45 * time.Second

type Server struct {
	streams       StreamResponder
	quality       QualityResolver
	playlist      PlaylistBuilder
	legacy        LegacyStreams
	healthChecks  map[string]HealthCheck
	streamTimeout time.Duration
	hlsTimeout    time.Duration
	baseURL       string
	rateRPS       float64
	rateBurst     int

	allowedOrigins []string
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithStreamResponder(responder StreamResponder) ServerOption {
	return func(s *Server) {
		s.streams = responder
	}
}

func WithQualityResolver(resolver QualityResolver) ServerOption {
	return func(s *Server) {
		s.quality = resolver
	}
}

func WithPlaylistBuilder(builder PlaylistBuilder) ServerOption {
	return func(s *Server) {
		s.playlist = builder
	}
}

func WithLegacyStreams(legacy LegacyStreams) ServerOption {
	return func(s *Server) {
		s.legacy = legacy
	}
}

// WithTimeouts sets the deadline of the stream/ route and of the HLS routes.
// Zero keeps the default.
func WithTimeouts(stream, hls time.Duration) ServerOption {
	return func(s *Server) {
		if stream > 0 {
			s.streamTimeout = stream
		}
		if hls > 0 {
			s.hlsTimeout = hls
		}
	}
}

// WithBaseURL fixes the origin written into generated playlist URLs. When
// empty, the origin of each request is used.
func WithBaseURL(baseURL string) ServerOption {
	return func(s *Server) {
		s.baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

func WithHealthCheck(name string, check HealthCheck) ServerOption {
	return func(s *Server) {
		if check != nil {
			s.healthChecks[name] = check
		}
	}
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		healthChecks:  make(map[string]HealthCheck),
		streamTimeout: defaultRouteTimeout,
		hlsTimeout:    defaultRouteTimeout,
		rateRPS:       200,
		rateBurst:     400,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger, s.handleWSMessage)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/"+usecase.RoutePlaylist, s.handleHLSPlaylist)
	mux.HandleFunc("/"+usecase.RouteQuality, s.handleHLSQuality)
	mux.HandleFunc("/"+usecase.RouteHLSData, s.handleHLSStream)
	mux.HandleFunc("/"+usecase.RouteStream, s.handleStream)
	mux.HandleFunc("/internal/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "mediastream",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/internal/health" && p != "/ws"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + normalizeRoute(r.URL.Path)
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close disconnects all WebSocket clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.wsHub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:     s.wsHub,
		conn:    conn,
		send:    make(chan []byte, 256),
		account: s.requestAccount(r),
	}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

// BroadcastStreams sends the live stream list to all WebSocket clients.
func (s *Server) BroadcastStreams() {
	if s.wsHub == nil || s.legacy == nil {
		return
	}
	s.wsHub.Broadcast("streams", s.legacy.Snapshot())
}
