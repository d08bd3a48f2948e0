package mongo

import (
	"errors"
	"testing"

	"mediastream/internal/domain"
)

func TestValidatePart(t *testing.T) {
	tests := []struct {
		name          string
		offset, limit int64
		ok            bool
	}{
		{"smallest legacy part", 2048, 2048, true},
		{"hls chunk", 4096, 4096, true},
		{"full block", 3 << 20, 1 << 20, true},
		{"half block tail", 1<<20 + 512*1024, 512 * 1024, true},
		{"zero limit", 0, 0, false},
		{"not power of two", 0, 3072, false},
		{"too small", 0, 512, false},
		{"too large", 0, 2 << 20, false},
		{"unaligned offset", 100, 4096, false},
		{"crosses block", 1<<20 - 4096, 8192, false},
		{"negative offset", -1024, 1024, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePart(tc.offset, tc.limit)
			if tc.ok && err != nil {
				t.Fatalf("ValidatePart(%d, %d) = %v, want nil", tc.offset, tc.limit, err)
			}
			if !tc.ok && !errors.Is(err, domain.ErrLimitInvalid) {
				t.Fatalf("ValidatePart(%d, %d) = %v, want ErrLimitInvalid", tc.offset, tc.limit, err)
			}
		})
	}
}

func TestToDomain(t *testing.T) {
	got := toDomain(fileDoc{
		ID:       "42",
		Length:   999,
		Filename: "mtproto:41",
		Metadata: fileMetadata{DCID: 2, MimeType: "video/mp4", Width: 1280, Height: 720, Duration: 12.5},
	})
	want := domain.Doc{ID: "42", DCID: 2, Size: 999, MimeType: "video/mp4", FileName: "mtproto:41", Width: 1280, Height: 720, Duration: 12.5}
	if got != want {
		t.Fatalf("toDomain = %+v, want %+v", got, want)
	}
}
