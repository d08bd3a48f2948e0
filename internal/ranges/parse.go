package ranges

import (
	"strconv"
	"strings"

	"mediastream/internal/domain"
)

// ParseHeader reads the first sub-range of a "bytes=<start>-<end>" header.
// A missing header or an unreadable start yields {0, 0}; a missing or
// unreadable end yields End == 0.
func ParseHeader(header string) domain.ByteRange {
	header = strings.TrimSpace(header)
	if header == "" {
		return domain.ByteRange{}
	}
	_, spec, ok := strings.Cut(header, "=")
	if !ok {
		return domain.ByteRange{}
	}
	first, _, _ := strings.Cut(spec, ",")
	startRaw, endRaw, _ := strings.Cut(strings.TrimSpace(first), "-")
	startRaw = strings.TrimSpace(startRaw)
	endRaw = strings.TrimSpace(endRaw)

	var start int64
	if startRaw != "" {
		parsed, err := strconv.ParseInt(startRaw, 10, 64)
		if err != nil || parsed < 0 {
			return domain.ByteRange{}
		}
		start = parsed
	}

	var end int64
	if endRaw != "" {
		if parsed, err := strconv.ParseInt(endRaw, 10, 64); err == nil && parsed >= 0 {
			end = parsed
		}
	}
	if end != 0 && end < start {
		return domain.ByteRange{}
	}
	return domain.ByteRange{Start: start, End: end}
}
