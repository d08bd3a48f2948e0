package apihttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mediastream/internal/domain"
	"mediastream/internal/metrics"
	"mediastream/internal/usecase"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// routeCall produces the response of one streaming route. It must not touch
// the *http.Request: it may outlive the handler after a timeout.
type routeCall func(ctx context.Context) (usecase.Response, error)

func (s *Server) handleHLSPlaylist(w http.ResponseWriter, r *http.Request) {
	if s.playlist == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "playlist builder not configured")
		return
	}
	segment := routeSegment(r, usecase.RoutePlaylist)
	rc := s.requestContext(r)
	s.respond(w, r, "hls_playlist", s.hlsTimeout, 0, func(ctx context.Context) (usecase.Response, error) {
		opts, err := usecase.ParseDownloadOptions(segment)
		if err != nil {
			return usecase.Response{}, err
		}
		reader, err := s.playlist.Build(ctx, opts, rc)
		if err != nil {
			return usecase.Response{}, err
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			return usecase.Response{}, err
		}
		return textResponse(body), nil
	})
}

func (s *Server) handleHLSQuality(w http.ResponseWriter, r *http.Request) {
	if s.quality == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "quality resolver not configured")
		return
	}
	segment := routeSegment(r, usecase.RouteQuality)
	rc := s.requestContext(r)
	s.respond(w, r, "hls_quality", s.hlsTimeout, 0, func(ctx context.Context) (usecase.Response, error) {
		docID, err := unescapeDocID(segment)
		if err != nil {
			return usecase.Response{}, err
		}
		text, err := s.quality.Resolve(ctx, docID, rc)
		if err != nil {
			return usecase.Response{}, err
		}
		return textResponse([]byte(text)), nil
	})
}

func (s *Server) handleHLSStream(w http.ResponseWriter, r *http.Request) {
	if s.streams == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "stream responder not configured")
		return
	}
	ref, err := usecase.ParseStreamParams(routeSegment(r, usecase.RouteHLSData))
	if err != nil {
		s.writeFailure(w, r, "hls_stream", 0, err)
		return
	}
	rangeHeader := r.Header.Get("Range")
	rc := s.requestContext(r)
	s.respond(w, r, "hls_stream", s.hlsTimeout, ref.Size, func(ctx context.Context) (usecase.Response, error) {
		return s.streams.Respond(ctx, rangeHeader, ref, rc)
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.legacy == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "legacy streams not configured")
		return
	}
	opts, err := usecase.ParseDownloadOptions(routeSegment(r, usecase.RouteStream))
	if err != nil {
		s.writeFailure(w, r, "stream", 0, err)
		return
	}
	rangeHeader := r.Header.Get("Range")
	rc := s.requestContext(r)
	s.respond(w, r, "stream", s.streamTimeout, opts.Size, func(ctx context.Context) (usecase.Response, error) {
		return s.legacy.Serve(ctx, rangeHeader, opts, rc)
	})
}

// respond runs call under the route deadline and always writes exactly one
// response: the call's, or a failure.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, route string, timeout time.Duration, size int64, call routeCall) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	ctx := r.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		resp usecase.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: fmt.Errorf("%s handler panicked: %v", route, rec)}
			}
		}()
		resp, err := call(ctx)
		done <- result{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			s.writeFailure(w, r, route, size, res.err)
			return
		}
		writeResponse(w, res.resp)
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.RouteTimeoutsTotal.WithLabelValues(route).Inc()
			err = fmt.Errorf("%w: %s after %s", usecase.ErrTimeout, route, timeout)
		}
		s.writeFailure(w, r, route, size, err)
	}
}

// writeFailure answers a failed route. A start past the end of a file of
// known size is a 416; everything else is the generic uncached 500.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, route string, size int64, err error) {
	if errors.Is(err, domain.ErrRangeNotSatisfiable) {
		if size > 0 {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		}
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable", "requested range not satisfiable")
		return
	}

	code := errorCode(err)
	metrics.RouteFailuresTotal.WithLabelValues(route).Inc()
	level := slog.LevelError
	if code == "canceled" {
		level = slog.LevelDebug
	}
	s.logger.LogAttrs(r.Context(), level, "route failed",
		slog.String("route", route),
		slog.String("code", code),
		slog.String("range", r.Header.Get("Range")),
		slog.String("error", err.Error()),
	)
	w.Header().Set("Cache-Control", "no-cache")
	writeError(w, http.StatusInternalServerError, code, "internal server error")
}

// requestContext gathers the caller details use cases need.
func (s *Server) requestContext(r *http.Request) domain.RequestContext {
	clientID := strings.TrimSpace(r.Header.Get("X-Client-Id"))
	if clientID == "" {
		clientID = clientIP(r)
	}
	baseURL := s.baseURL
	if baseURL == "" {
		baseURL = requestBaseURL(r)
	}
	return domain.RequestContext{
		ClientID: clientID,
		Account:  s.requestAccount(r),
		BaseURL:  baseURL,
	}
}

func (s *Server) requestAccount(r *http.Request) domain.AccountNumber {
	if account, ok := parseAccount(r.Header.Get("X-Account-Number")); ok {
		return account
	}
	if account, ok := parseAccount(r.URL.Query().Get("account")); ok {
		return account
	}
	return domain.DefaultAccount
}

func unescapeDocID(segment string) (string, error) {
	docID, err := url.PathUnescape(segment)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	docID = strings.TrimSpace(docID)
	if docID == "" || strings.Contains(docID, "/") {
		return "", fmt.Errorf("%w: bad quality doc id %q", domain.ErrInvalidInput, docID)
	}
	return docID, nil
}

func textResponse(body []byte) usecase.Response {
	header := http.Header{}
	header.Set("Content-Type", playlistContentType)
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return usecase.Response{Status: http.StatusOK, Header: header, Body: body}
}
