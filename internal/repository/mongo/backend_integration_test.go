package mongo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo/options"

	"mediastream/internal/domain"
)

// testMongoURI returns the MongoDB connection URI for integration tests.
// Defaults to localhost:27017. Set MONGO_TEST_URI to override.
func testMongoURI() string {
	if uri := os.Getenv("MONGO_TEST_URI"); uri != "" {
		return uri
	}
	return "mongodb://localhost:27017"
}

// setupTestBackend connects to MongoDB and returns a backend over a unique
// test database. Calls t.Skip if MongoDB is unreachable.
func setupTestBackend(t *testing.T) *GridFSBackend {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	uri := testMongoURI()
	client, err := Connect(ctx, uri, options.Client().SetConnectTimeout(3*time.Second))
	if err != nil {
		t.Skipf("MongoDB not available at %s: %v", uri, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		t.Skipf("MongoDB ping failed at %s: %v", uri, err)
	}

	dbName := fmt.Sprintf("mediastream_test_%d", time.Now().UnixNano())
	backend, err := NewGridFSBackend(client, dbName, "media")
	if err != nil {
		_ = client.Disconnect(ctx)
		t.Fatalf("NewGridFSBackend: %v", err)
	}
	if err := backend.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		t.Fatalf("EnsureIndexes: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = client.Database(dbName).Drop(ctx2)
		_ = client.Disconnect(ctx2)
	})
	return backend
}

func patterned(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 251)
	}
	return out
}

func TestIntegrationRequestFilePart(t *testing.T) {
	backend := setupTestBackend(t)
	ctx := context.Background()
	data := patterned(1<<20 + 300_000)
	doc := domain.Doc{ID: "100", DCID: 2, MimeType: "video/mp4", FileName: "movie.mp4"}
	if err := backend.UploadDoc(ctx, doc, "movie", bytes.NewReader(data)); err != nil {
		t.Fatalf("UploadDoc: %v", err)
	}

	tests := []struct {
		name          string
		offset, limit int64
		want          []byte
	}{
		{"head", 0, 4096, data[:4096]},
		{"spans gridfs chunks", 253952, 8192, data[253952:262144]},
		{"full block", 0, 1 << 20, data[:1<<20]},
		{"short tail", 1<<20 + 262144, 65536, data[1<<20+262144:]},
		{"past end", 2 << 20, 4096, []byte{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := backend.RequestFilePart(ctx, domain.PartRequest{DocID: "100", Offset: tc.offset, Limit: tc.limit})
			if err != nil {
				t.Fatalf("RequestFilePart: %v", err)
			}
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("got %d bytes, want %d", len(got), len(tc.want))
			}
		})
	}

	if _, err := backend.RequestFilePart(ctx, domain.PartRequest{DocID: "nope", Offset: 0, Limit: 4096}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown doc: err = %v, want ErrNotFound", err)
	}
	if _, err := backend.RequestFilePart(ctx, domain.PartRequest{DocID: "100", Offset: 0, Limit: 5000}); !errors.Is(err, domain.ErrLimitInvalid) {
		t.Fatalf("bad limit: err = %v, want ErrLimitInvalid", err)
	}
}

func TestIntegrationDocsAndAltDocs(t *testing.T) {
	backend := setupTestBackend(t)
	ctx := context.Background()

	uploads := []struct {
		doc   domain.Doc
		group string
		body  string
	}{
		{domain.Doc{ID: "1", DCID: 2, MimeType: "video/mp4", FileName: "main.mp4"}, "film", "main"},
		{domain.Doc{ID: "2", DCID: 2, MimeType: "video/mp4", FileName: "720.mp4", Width: 1280, Height: 720, Duration: 60}, "film", "v720"},
		{domain.Doc{ID: "3", DCID: 2, MimeType: "application/x-mpegurl", FileName: "mtproto:2"}, "film", "#EXTM3U\nmtproto:2\n"},
		{domain.Doc{ID: "9", DCID: 1, FileName: "other.mp4"}, "other", "x"},
	}
	for _, u := range uploads {
		if err := backend.UploadDoc(ctx, u.doc, u.group, bytes.NewReader([]byte(u.body))); err != nil {
			t.Fatalf("UploadDoc(%s): %v", u.doc.ID, err)
		}
	}

	doc, err := backend.RequestDoc(ctx, "2", 1)
	if err != nil {
		t.Fatalf("RequestDoc: %v", err)
	}
	if doc.DCID != 2 || doc.Size != 4 || doc.Height != 720 || doc.MimeType != "video/mp4" {
		t.Fatalf("RequestDoc = %+v", doc)
	}

	alts, err := backend.RequestAltDocsByDoc(ctx, "1", 1)
	if err != nil {
		t.Fatalf("RequestAltDocsByDoc: %v", err)
	}
	if len(alts) != 2 || alts[0].ID != "2" || alts[1].ID != "3" {
		t.Fatalf("alt docs = %+v, want docs 2 and 3", alts)
	}

	body, err := backend.DownloadDoc(ctx, "3", 1)
	if err != nil {
		t.Fatalf("DownloadDoc: %v", err)
	}
	if string(body) != "#EXTM3U\nmtproto:2\n" {
		t.Fatalf("DownloadDoc = %q", body)
	}
	if _, err := backend.DownloadDoc(ctx, "404", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing doc: err = %v, want ErrNotFound", err)
	}
	if err := backend.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
