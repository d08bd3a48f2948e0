package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"mediastream/internal/domain"
	"mediastream/internal/domain/ports"
)

var qualityHeights = []int{144, 240, 360, 480, 720, 1080, 1440, 2160}

// PlaylistBuilder produces the master playlist listing every quality of a
// media item.
type PlaylistBuilder struct {
	Backend ports.Backend
	Logger  *slog.Logger
}

func NewPlaylistBuilder(backend ports.Backend, logger *slog.Logger) *PlaylistBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaylistBuilder{Backend: backend, Logger: logger}
}

func (b *PlaylistBuilder) Build(ctx context.Context, opts domain.DownloadOptions, rc domain.RequestContext) (io.Reader, error) {
	docID := opts.DocID()
	if docID == "" {
		return nil, fmt.Errorf("%w: missing document id", domain.ErrInvalidInput)
	}
	altDocs, err := b.Backend.RequestAltDocsByDoc(ctx, docID, rc.Account)
	if err != nil {
		return nil, wrapBackend(err)
	}
	if len(altDocs) == 0 {
		return nil, fmt.Errorf("%w: no alternative documents for %s", domain.ErrNotFound, docID)
	}
	entries := QualityEntries(altDocs)
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no quality files among %d alternative documents of %s", domain.ErrNotFound, len(altDocs), docID)
	}
	b.Logger.Debug("master playlist built", slog.String("docId", docID), slog.Int("qualities", len(entries)))
	return strings.NewReader(MasterPlaylist(rc.BaseURL, entries)), nil
}

// QualityEntries pairs every quality file among docs with the video it
// points at. Quality files whose target is not among docs are skipped.
func QualityEntries(docs []domain.Doc) []domain.QualityEntry {
	byID := make(map[string]domain.Doc, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}

	var entries []domain.QualityEntry
	for _, doc := range docs {
		match := sentinelPattern.FindStringSubmatch(doc.FileName)
		if match == nil {
			continue
		}
		target, ok := byID[match[1]]
		if !ok {
			continue
		}
		var bandwidth int64
		if target.Duration > 0 {
			bandwidth = int64(float64(target.Size*8) / target.Duration)
		}
		entries = append(entries, domain.QualityEntry{
			DocID:       doc.ID,
			TargetDocID: target.ID,
			Width:       target.Width,
			Height:      target.Height,
			Bandwidth:   bandwidth,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Bandwidth != entries[j].Bandwidth {
			return entries[i].Bandwidth < entries[j].Bandwidth
		}
		return entries[i].Height < entries[j].Height
	})
	return entries
}

// MasterPlaylist renders the top-level m3u8 for entries.
func MasterPlaylist(baseURL string, entries []domain.QualityEntry) string {
	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	sb.WriteString("#EXT-X-VERSION:4\n")
	for _, entry := range entries {
		sb.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d", entry.Bandwidth))
		if entry.Width > 0 && entry.Height > 0 {
			sb.WriteString(fmt.Sprintf(",RESOLUTION=%dx%d", entry.Width, entry.Height))
			sb.WriteString(fmt.Sprintf(",NAME=\"%dp\"", SnapQualityHeight(entry.Height)))
		}
		sb.WriteString("\n")
		sb.WriteString(QualityURL(baseURL, entry.DocID))
		sb.WriteString("\n")
	}
	return sb.String()
}

// SnapQualityHeight maps a video height to the nearest standard ladder step.
func SnapQualityHeight(height int) int {
	best := qualityHeights[0]
	for _, h := range qualityHeights[1:] {
		if abs(h-height) < abs(best-height) {
			best = h
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
