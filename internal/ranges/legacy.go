package ranges

import "mediastream/internal/domain"

// Part sizes for plain video-file streaming. These are tuned separately from
// the HLS aligner and are kept apart on purpose.
const (
	LegacyMiddleLimit        int64 = 512 * 1024
	LegacyUpperLimit         int64 = 1024 * 1024
	LegacySmallestLimit      int64 = 512 * 4
	LegacyLargeFileThreshold int64 = 75 * 1024 * 1024
)

// LegacyPolicy plans range reads for the stream/ route.
type LegacyPolicy struct {
	PartLimit int64
}

// LegacyPlan is the outcome of LegacyPolicy.Plan.
type LegacyPlan struct {
	Offset        int64
	End           int64
	AlignedOffset int64
	Limit         int64
	Units         []domain.FetchUnit
	// Exact is true when the requested range equals the first part, in which
	// case the part is returned without slicing.
	Exact bool
}

// NewLegacyPolicy picks the part limit for a file. Mobile Safari fails to
// start very large videos fetched in 512 KiB parts.
func NewLegacyPolicy(size int64) LegacyPolicy {
	if size > LegacyLargeFileThreshold {
		return LegacyPolicy{PartLimit: LegacyUpperLimit}
	}
	return LegacyPolicy{PartLimit: LegacyMiddleLimit}
}

func (p LegacyPolicy) Plan(r domain.ByteRange, size int64) LegacyPlan {
	offset, end := r.Start, r.End

	limit := p.PartLimit
	if end != 0 && end < p.PartLimit {
		limit = max(nextPowerOfTwo(end-offset+1), LegacySmallestLimit)
	}
	aligned := offset - offset%limit

	if end == 0 {
		end = offset + limit
		if size > 0 {
			end = min(end, size-1)
		}
	}

	plan := LegacyPlan{
		Offset:        offset,
		End:           end,
		AlignedOffset: aligned,
		Limit:         limit,
		Units:         []domain.FetchUnit{{Offset: aligned, Limit: limit}},
		Exact:         offset == aligned && end == aligned+limit,
	}
	if !plan.Exact {
		if overflow := end - aligned - limit + 1; overflow > 0 {
			plan.Units = append(plan.Units, domain.FetchUnit{Offset: aligned + limit, Limit: limit})
		}
	}
	return plan
}

// Slice cuts the concatenated parts down to the requested range.
func (p LegacyPlan) Slice(buf []byte) []byte {
	if p.Exact {
		return buf
	}
	from := p.Offset - p.AlignedOffset
	to := p.End - p.AlignedOffset + 1
	if from > int64(len(buf)) {
		return buf[:0]
	}
	if to > int64(len(buf)) {
		to = int64(len(buf))
	}
	if to < from {
		return buf[:0]
	}
	return buf[from:to]
}

// IsSafariProbe reports the two-byte range Safari issues before playback.
func IsSafariProbe(r domain.ByteRange) bool {
	return r.Start == 0 && r.End == 1
}
