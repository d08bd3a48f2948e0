package ranges

import (
	"math/bits"

	"mediastream/internal/domain"
)

const (
	// ChunkSize is the smallest part the backend serves and the granularity
	// of every part limit.
	ChunkSize int64 = 4096
	// FragmentSize is the backend addressing boundary no part may cross.
	FragmentSize int64 = 1 << 20
)

// Align plans the backend parts that cover [lower, upper]. The first part is
// anchored to the end of the fragment (or chunk) holding lower, whole
// fragments follow, and a trailing part picks up the remainder.
func Align(lower, upper int64) domain.AlignedRequest {
	lowerChunkStart := lower / ChunkSize * ChunkSize
	upperNextChunkStart := (upper/ChunkSize + 1) * ChunkSize
	fragStart := lower / FragmentSize * FragmentSize
	nextFragStart := fragStart + FragmentSize

	end := min(nextFragStart, upperNextChunkStart)
	limit := SnapLimit(end - lowerChunkStart)
	offset := max(end-limit, fragStart)

	units := []domain.FetchUnit{{Offset: offset, Limit: limit}}
	cursor := offset + limit
	for cursor+FragmentSize <= upper+1 {
		units = append(units, domain.FetchUnit{Offset: cursor, Limit: FragmentSize})
		cursor += FragmentSize
	}
	if remainder := upper - cursor + 1; remainder > 0 {
		units = append(units, domain.FetchUnit{Offset: cursor, Limit: SnapLimit(remainder)})
	}

	last := units[len(units)-1]
	return domain.AlignedRequest{
		AlignedLowerBound: units[0].Offset,
		AlignedUpperBound: last.Offset + last.Limit - 1,
		Units:             units,
	}
}

// SnapLimit rounds n up to a power of two no smaller than ChunkSize.
func SnapLimit(n int64) int64 {
	return max(nextPowerOfTwo(n), ChunkSize)
}

func nextPowerOfTwo(n int64) int64 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len64(uint64(n-1))
}
