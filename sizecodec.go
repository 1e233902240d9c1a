// Package shufflemeta implements the shuffle-accounting core of a
// distributed analytics engine: space-efficient per-partition output
// size metadata produced by map tasks (MapStatus), driver-side
// aggregation of those statuses into per-shuffle size vectors, and the
// adaptive exchange coordinator that turns such vectors into
// post-shuffle partition plans.
//
// Sizes travel as a single byte per partition with bounded relative
// error; statuses over very wide shuffles drop to an average-plus-
// outliers form so that cluster-wide metadata stays O(outliers) rather
// than O(partitions) per map task.
package shufflemeta

import "math"

// The codec quantizes a size onto the exponent grid of logBase. One
// byte covers sizes up to roughly 35 GiB per block before saturating,
// which is far beyond what a single map task emits into one partition
// in practice.
const (
	sizeLogBase = 1.1

	// largest encodable bucket; 255 is the saturation marker
	maxSizeBucket = 254
	sizeSaturated = 255
)

var logOfSizeBase = math.Log(sizeLogBase)

// decode table, one entry per possible byte (cheap to do upfront)
var sizeDecodeTable [256]uint64

func init() {
	for c := 1; c < 256; c++ {
		sizeDecodeTable[c] = uint64(math.Pow(sizeLogBase, float64(c)))
	}
}

// CompressSize encodes a byte count into a single byte as the bucket
// index ceil(log1.1(size)), clipped to [1, 254]. Zero encodes as zero,
// and sizes past the largest bucket encode as the saturation marker
// 255. The encoding rounds up: decoding a non-saturated result never
// comes out below the original size.
func CompressSize(size uint64) uint8 {
	if size == 0 {
		return 0
	}
	if size == 1 {
		return 1
	}
	c := int(math.Ceil(math.Log(float64(size)) / logOfSizeBase))
	if c < 1 {
		c = 1
	}
	if c > maxSizeBucket {
		return sizeSaturated
	}
	return uint8(c)
}

// DecompressSize recovers the upper edge of the encoded bucket,
// 1.1^c truncated to an integer. DecompressSize(0) is 0;
// DecompressSize(255) is the
// largest size the codec can represent. For any size whose compressed
// form is not saturated the round trip lands within [0.99*size,
// 1.11*size].
func DecompressSize(compressed uint8) uint64 {
	return sizeDecodeTable[compressed]
}

// MaxRepresentableSize is the decoded value of the saturation marker:
// sizes at or above this cannot be distinguished by the codec.
func MaxRepresentableSize() uint64 {
	return sizeDecodeTable[sizeSaturated]
}
