package mongo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mediastream/internal/domain"
)

// Part limits accepted by RequestFilePart.
const (
	MinPartLimit  int64 = 1024
	MaxPartLimit  int64 = 1 << 20
	PartAlignment int64 = 1024
)

// GridFSBackend serves the backend file surface from a GridFS bucket. A
// document is one GridFS file whose _id is the document id; metadata.group
// ties a document to its alternative versions.
type GridFSBackend struct {
	client *mongo.Client
	bucket *gridfs.Bucket
	files  *mongo.Collection
	chunks *mongo.Collection
}

type fileMetadata struct {
	DCID     int     `bson:"dcId"`
	MimeType string  `bson:"mimeType,omitempty"`
	Group    string  `bson:"group,omitempty"`
	Width    int     `bson:"width,omitempty"`
	Height   int     `bson:"height,omitempty"`
	Duration float64 `bson:"duration,omitempty"`
}

type fileDoc struct {
	ID        string       `bson:"_id"`
	Length    int64        `bson:"length"`
	ChunkSize int32        `bson:"chunkSize"`
	Filename  string       `bson:"filename"`
	Metadata  fileMetadata `bson:"metadata"`
}

type chunkDoc struct {
	N    int32  `bson:"n"`
	Data []byte `bson:"data"`
}

func NewGridFSBackend(client *mongo.Client, dbName, bucketName string) (*GridFSBackend, error) {
	db := client.Database(dbName)
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, err
	}
	return &GridFSBackend{
		client: client,
		bucket: bucket,
		files:  db.Collection(bucketName + ".files"),
		chunks: db.Collection(bucketName + ".chunks"),
	}, nil
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (b *GridFSBackend) EnsureIndexes(ctx context.Context) error {
	_, err := b.files.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "metadata.group", Value: 1}},
	})
	return err
}

func (b *GridFSBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx, nil)
}

// ValidatePart reports whether a part request is one the backend serves:
// the limit is a power of two between MinPartLimit and MaxPartLimit, the
// offset is PartAlignment-aligned and the part stays inside one MaxPartLimit
// block.
func ValidatePart(offset, limit int64) error {
	switch {
	case offset < 0:
		return fmt.Errorf("%w: negative offset %d", domain.ErrLimitInvalid, offset)
	case limit < MinPartLimit || limit > MaxPartLimit || bits.OnesCount64(uint64(limit)) != 1:
		return fmt.Errorf("%w: limit %d", domain.ErrLimitInvalid, limit)
	case offset%PartAlignment != 0:
		return fmt.Errorf("%w: offset %d not aligned to %d", domain.ErrLimitInvalid, offset, PartAlignment)
	case offset/MaxPartLimit != (offset+limit-1)/MaxPartLimit:
		return fmt.Errorf("%w: part [%d,+%d) crosses a %d byte boundary", domain.ErrLimitInvalid, offset, limit, MaxPartLimit)
	}
	return nil
}

// RequestFilePart returns up to req.Limit bytes starting at req.Offset. Fewer
// bytes come back at the end of the file.
func (b *GridFSBackend) RequestFilePart(ctx context.Context, req domain.PartRequest) ([]byte, error) {
	if err := ValidatePart(req.Offset, req.Limit); err != nil {
		return nil, err
	}
	file, err := b.findFile(ctx, req.DocID)
	if err != nil {
		return nil, err
	}
	if req.Offset >= file.Length {
		return []byte{}, nil
	}
	end := min(req.Offset+req.Limit, file.Length)
	chunkSize := int64(file.ChunkSize)
	if chunkSize <= 0 {
		return nil, fmt.Errorf("file %s has chunk size %d", req.DocID, file.ChunkSize)
	}
	first := req.Offset / chunkSize
	last := (end - 1) / chunkSize

	cursor, err := b.chunks.Find(ctx,
		bson.M{"files_id": req.DocID, "n": bson.M{"$gte": first, "$lte": last}},
		options.Find().SetSort(bson.D{{Key: "n", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var buf bytes.Buffer
	buf.Grow(int((last - first + 1) * chunkSize))
	expected := first
	for cursor.Next(ctx) {
		var chunk chunkDoc
		if err := cursor.Decode(&chunk); err != nil {
			return nil, err
		}
		if int64(chunk.N) != expected {
			return nil, fmt.Errorf("%w: file %s missing chunk %d", domain.ErrShortRead, req.DocID, expected)
		}
		buf.Write(chunk.Data)
		expected++
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	if expected != last+1 {
		return nil, fmt.Errorf("%w: file %s missing chunk %d", domain.ErrShortRead, req.DocID, expected)
	}

	data := buf.Bytes()
	from := req.Offset - first*chunkSize
	to := end - first*chunkSize
	if to > int64(len(data)) {
		return nil, fmt.Errorf("%w: file %s chunks hold %d bytes, need %d", domain.ErrShortRead, req.DocID, len(data), to)
	}
	return data[from:to], nil
}

func (b *GridFSBackend) RequestDoc(ctx context.Context, docID string, _ domain.AccountNumber) (domain.Doc, error) {
	file, err := b.findFile(ctx, docID)
	if err != nil {
		return domain.Doc{}, err
	}
	return toDomain(file), nil
}

// RequestAltDocsByDoc lists the other documents sharing docID's group.
func (b *GridFSBackend) RequestAltDocsByDoc(ctx context.Context, docID string, _ domain.AccountNumber) ([]domain.Doc, error) {
	file, err := b.findFile(ctx, docID)
	if err != nil {
		return nil, err
	}
	if file.Metadata.Group == "" {
		return nil, nil
	}

	cursor, err := b.files.Find(ctx,
		bson.M{"metadata.group": file.Metadata.Group, "_id": bson.M{"$ne": docID}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []fileDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.Doc, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDomain(d))
	}
	return out, nil
}

// DownloadDoc reads a whole document. Meant for small files such as quality
// manifests.
func (b *GridFSBackend) DownloadDoc(ctx context.Context, docID string, _ domain.AccountNumber) ([]byte, error) {
	stream, err := b.bucket.OpenDownloadStream(docID)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, fmt.Errorf("doc %s: %w", docID, domain.ErrNotFound)
		}
		return nil, err
	}
	defer stream.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if err := stream.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
	}
	return io.ReadAll(stream)
}

// UploadDoc stores data under doc.ID. Uploading an existing id fails.
func (b *GridFSBackend) UploadDoc(ctx context.Context, doc domain.Doc, group string, data io.Reader) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := b.bucket.SetWriteDeadline(deadline); err != nil {
			return err
		}
		defer b.bucket.SetWriteDeadline(time.Time{})
	}
	meta := fileMetadata{
		DCID:     doc.DCID,
		MimeType: doc.MimeType,
		Group:    group,
		Width:    doc.Width,
		Height:   doc.Height,
		Duration: doc.Duration,
	}
	return b.bucket.UploadFromStreamWithID(doc.ID, doc.FileName, data, options.GridFSUpload().SetMetadata(meta))
}

func (b *GridFSBackend) findFile(ctx context.Context, docID string) (fileDoc, error) {
	var file fileDoc
	err := b.files.FindOne(ctx, bson.M{"_id": docID}).Decode(&file)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fileDoc{}, fmt.Errorf("doc %s: %w", docID, domain.ErrNotFound)
		}
		return fileDoc{}, err
	}
	return file, nil
}

func toDomain(f fileDoc) domain.Doc {
	return domain.Doc{
		ID:       f.ID,
		DCID:     f.Metadata.DCID,
		Size:     f.Length,
		MimeType: f.Metadata.MimeType,
		FileName: f.Filename,
		Width:    f.Metadata.Width,
		Height:   f.Metadata.Height,
		Duration: f.Metadata.Duration,
	}
}
