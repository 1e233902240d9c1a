package shufflemeta

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// OutlierSelection is the result of classifying a raw size vector for
// highly compressed storage: which blocks are empty, which are kept
// with exact sizes, which are kept byte-coded, and the average that
// stands in for everything else.
type OutlierSelection struct {
	// AvgSize is the truncated mean over blocks that are neither empty
	// nor outliers. Zero only when no such block exists.
	AvgSize uint64

	// EmptyBlocks holds the indices of zero-sized blocks, run-length
	// optimized.
	EmptyBlocks *roaring.Bitmap

	// Exact maps block index to its exact size, for blocks at or above
	// the accurate threshold. These sizes are never estimated.
	Exact map[uint32]uint64

	// Skewed maps block index to its byte-coded size, for blocks that
	// exceeded the skew rule but stayed below the accurate threshold.
	Skewed map[uint32]uint8
}

// SelectOutliers applies the skew and accurate rules to a size vector.
//
// A block qualifies as an outlier when its size is at least
// cfg.AccurateBlockThreshold (the accurate rule) or strictly exceeds
// cfg.SkewFactor times the average over non-empty blocks (the skew
// rule). The accurate rule dominates: any block at or above the
// threshold is stored exactly, the skew rule only adds byte-coded
// entries below it.
//
// The outlier set is capped at cfg.outlierCap(len(sizes)). When the
// candidates overflow the cap the largest survive (ties broken towards
// the lower index), and the average is re-derived over the remaining
// non-empty non-outlier blocks so that unreported blocks stay honest
// on average.
func SelectOutliers(sizes []uint64, cfg Config) OutlierSelection {
	empty := roaring.New()

	var nonEmptySum uint64
	nonEmptyCount := 0
	for i, s := range sizes {
		if s == 0 {
			empty.Add(uint32(i))
		} else {
			nonEmptySum += s
			nonEmptyCount++
		}
	}
	empty.RunOptimize()

	avgNonEmpty := nonEmptySum
	if nonEmptyCount > 1 {
		avgNonEmpty = nonEmptySum / uint64(nonEmptyCount)
	}

	skewCutoff := cfg.SkewFactor * float64(avgNonEmpty)
	var candidates []int
	for i, s := range sizes {
		if s == 0 {
			continue
		}
		if s >= cfg.AccurateBlockThreshold || float64(s) > skewCutoff {
			candidates = append(candidates, i)
		}
	}

	if limit := cfg.outlierCap(len(sizes)); len(candidates) > limit {
		sort.Slice(candidates, func(a, b int) bool {
			sa, sb := sizes[candidates[a]], sizes[candidates[b]]
			if sa != sb {
				return sa > sb
			}
			return candidates[a] < candidates[b]
		})
		candidates = candidates[:limit]
	}

	exact := make(map[uint32]uint64)
	skewed := make(map[uint32]uint8)
	for _, i := range candidates {
		if s := sizes[i]; s >= cfg.AccurateBlockThreshold {
			exact[uint32(i)] = s
		} else {
			skewed[uint32(i)] = CompressSize(s)
		}
	}

	// the stored average covers only what the outlier table does not
	var restSum uint64
	restCount := 0
	for i, s := range sizes {
		if s == 0 {
			continue
		}
		if _, ok := exact[uint32(i)]; ok {
			continue
		}
		if _, ok := skewed[uint32(i)]; ok {
			continue
		}
		restSum += s
		restCount++
	}
	var avgSize uint64
	if restCount > 0 {
		avgSize = restSum / uint64(restCount)
	}

	return OutlierSelection{
		AvgSize:     avgSize,
		EmptyBlocks: empty,
		Exact:       exact,
		Skewed:      skewed,
	}
}
