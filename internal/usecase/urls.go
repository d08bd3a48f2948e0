package usecase

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"mediastream/internal/domain"
)

const (
	RoutePlaylist = "hls_playlist/"
	RouteQuality  = "hls_quality/"
	RouteHLSData  = "hls_stream/"
	RouteStream   = "stream/"
)

// StreamURL builds the absolute hls_stream/ URL that carries ref.
func StreamURL(baseURL string, ref domain.RemoteDocRef) (string, error) {
	payload, err := json.Marshal(ref)
	if err != nil {
		return "", err
	}
	return joinURL(baseURL, RouteHLSData+url.PathEscape(string(payload))), nil
}

// QualityURL builds the absolute hls_quality/ URL for a quality file.
func QualityURL(baseURL, docID string) string {
	return joinURL(baseURL, RouteQuality+url.PathEscape(docID))
}

// ParseStreamParams decodes the path segment of an hls_stream/ URL.
func ParseStreamParams(segment string) (domain.RemoteDocRef, error) {
	var ref domain.RemoteDocRef
	if err := decodeSegment(segment, &ref); err != nil {
		return domain.RemoteDocRef{}, err
	}
	if strings.TrimSpace(ref.DocID) == "" {
		return domain.RemoteDocRef{}, fmt.Errorf("%w: stream params without docId", domain.ErrInvalidInput)
	}
	return ref, nil
}

// ParseDownloadOptions decodes the path segment of stream/ and hls_playlist/
// URLs.
func ParseDownloadOptions(segment string) (domain.DownloadOptions, error) {
	var opts domain.DownloadOptions
	if err := decodeSegment(segment, &opts); err != nil {
		return domain.DownloadOptions{}, err
	}
	if opts.DocID() == "" {
		return domain.DownloadOptions{}, fmt.Errorf("%w: download options without location id", domain.ErrInvalidInput)
	}
	return opts, nil
}

func decodeSegment(segment string, dst interface{}) error {
	raw, err := url.PathUnescape(segment)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func joinURL(baseURL, path string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + path
}
