package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"mediastream/internal/domain"
	"mediastream/internal/ranges"
)

// StreamResponder serves byte ranges of an HLS media file: it widens the
// request to backend-legal parts, fetches them and cuts the exact range back
// out.
type StreamResponder struct {
	Fetcher *ChunkFetcher
	Logger  *slog.Logger
}

func NewStreamResponder(fetcher *ChunkFetcher, logger *slog.Logger) *StreamResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamResponder{Fetcher: fetcher, Logger: logger}
}

func (s *StreamResponder) Respond(ctx context.Context, rangeHeader string, ref domain.RemoteDocRef, rc domain.RequestContext) (Response, error) {
	requested := ranges.ParseHeader(rangeHeader)
	lower, upper := resolveBounds(requested, ref.Size)
	if ref.Size > 0 && lower >= ref.Size {
		return Response{}, fmt.Errorf("%w: start %d, size %d", domain.ErrRangeNotSatisfiable, lower, ref.Size)
	}

	aligned := ranges.Align(lower, upper)
	buf, err := s.Fetcher.FetchAndConcat(ctx, PartSource{
		DocID:   ref.DocID,
		DCID:    ref.DCID,
		Account: rc.Account,
	}, aligned.Units)
	if err != nil {
		return Response{}, err
	}

	from := lower - aligned.AlignedLowerBound
	to := upper - aligned.AlignedLowerBound + 1
	if int64(len(buf)) < to {
		return Response{}, fmt.Errorf("%w: doc %s returned %d bytes for [%d,%d]",
			domain.ErrShortRead, ref.DocID, len(buf), aligned.AlignedLowerBound, aligned.AlignedUpperBound)
	}

	s.Logger.Debug("hls range served",
		slog.String("docId", ref.DocID),
		slog.Int64("start", lower),
		slog.Int64("end", upper),
		slog.Int("parts", len(aligned.Units)),
	)
	return partialContent(buf[from:to], lower, ref.Size, ref.MimeType), nil
}

// resolveBounds turns a parsed range into a closed interval. An unbounded
// range is served one fragment at a time; the player asks for the rest.
func resolveBounds(r domain.ByteRange, size int64) (int64, int64) {
	lower, upper := r.Start, r.End
	if upper == 0 {
		upper = lower + ranges.FragmentSize - 1
	}
	if size > 0 && upper >= size {
		upper = size - 1
	}
	return lower, upper
}
