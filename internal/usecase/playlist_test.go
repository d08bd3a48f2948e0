package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"mediastream/internal/domain"
)

func altDocsFixture() []domain.Doc {
	return []domain.Doc{
		{ID: "v720", Size: 45_000_000, Duration: 60, Width: 1280, Height: 720},
		{ID: "q720", FileName: "mtproto:v720"},
		{ID: "v360", Size: 9_000_000, Duration: 60, Width: 640, Height: 358},
		{ID: "q360", FileName: "mtproto:v360"},
		{ID: "orphan", FileName: "mtproto:999"},
		{ID: "poster", FileName: "poster.jpg"},
	}
}

func TestQualityEntries(t *testing.T) {
	entries := QualityEntries(altDocsFixture())
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].DocID != "q360" || entries[1].DocID != "q720" {
		t.Fatalf("entries not sorted by bandwidth: %+v", entries)
	}
	if entries[0].Bandwidth != 1_200_000 {
		t.Fatalf("bandwidth = %d, want 1200000", entries[0].Bandwidth)
	}
	if entries[1].TargetDocID != "v720" || entries[1].Height != 720 {
		t.Fatalf("entry = %+v", entries[1])
	}
}

func TestPlaylistBuilderBuild(t *testing.T) {
	backend := newFakeBackend()
	backend.altDocs["main"] = altDocsFixture()
	builder := NewPlaylistBuilder(backend, nil)

	r, err := builder.Build(context.Background(), domain.DownloadOptions{Location: domain.FileLocation{ID: "main"}}, domain.RequestContext{BaseURL: testBaseURL})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read playlist: %v", err)
	}

	want := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:4",
		`#EXT-X-STREAM-INF:BANDWIDTH=1200000,RESOLUTION=640x358,NAME="360p"`,
		testBaseURL + "/hls_quality/q360",
		`#EXT-X-STREAM-INF:BANDWIDTH=6000000,RESOLUTION=1280x720,NAME="720p"`,
		testBaseURL + "/hls_quality/q720",
		"",
	}, "\n")
	if string(body) != want {
		t.Fatalf("playlist:\n%s\nwant:\n%s", body, want)
	}
}

func TestPlaylistBuilderFailures(t *testing.T) {
	backend := newFakeBackend()
	backend.altDocs["only-poster"] = []domain.Doc{{ID: "poster", FileName: "poster.jpg"}}
	builder := NewPlaylistBuilder(backend, nil)
	rc := domain.RequestContext{BaseURL: testBaseURL}

	tests := []struct {
		name string
		id   string
		want error
	}{
		{"no alt docs", "empty", domain.ErrNotFound},
		{"no quality files", "only-poster", domain.ErrNotFound},
		{"missing id", " ", domain.ErrInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := builder.Build(context.Background(), domain.DownloadOptions{Location: domain.FileLocation{ID: tc.id}}, rc)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSnapQualityHeight(t *testing.T) {
	tests := map[int]int{
		100:  144,
		358:  360,
		544:  480,
		720:  720,
		800:  720,
		1088: 1080,
		2000: 2160,
		4320: 2160,
	}
	for in, want := range tests {
		if got := SnapQualityHeight(in); got != want {
			t.Errorf("SnapQualityHeight(%d) = %d, want %d", in, got, want)
		}
	}
}
