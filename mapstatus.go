package shufflemeta

import (
	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/xerrors"
)

// Location identifies the worker that produced a map output. Immutable
// once set.
type Location struct {
	Host       string
	ExecutorID string
	Port       uint16
}

// MapStatus is the metadata one map task produces when its shuffle
// write completes: where the output lives and how large each
// per-partition block is. Statuses are immutable after construction
// and safe for concurrent readers.
//
// GetSize is total on [0, NumPartitions()): it returns 0 exactly for
// blocks that were written empty, and a bounded estimate (or the exact
// size, for accurate outliers) otherwise.
type MapStatus interface {
	Location() Location
	MapID() uint32
	NumPartitions() int
	GetSize(i int) uint64
}

// NewMapStatus packages a raw per-partition size vector. Vectors over
// at least cfg.HighlyCompressedThreshold partitions use the highly
// compressed form (average plus outliers); narrower ones keep one
// byte-coded size per partition.
func NewMapStatus(loc Location, mapID uint32, sizes []uint64, cfg Config) (MapStatus, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(sizes) == 0 {
		return nil, xerrors.Errorf("map status needs at least one partition: %w", ErrShapeMismatch)
	}
	if len(sizes) >= cfg.HighlyCompressedThreshold {
		return newHighlyCompressedStatus(loc, mapID, sizes, cfg), nil
	}
	return newCompressedStatus(loc, mapID, sizes), nil
}

// CompressedStatus stores one byte-coded size per downstream
// partition.
type CompressedStatus struct {
	loc   Location
	mapID uint32
	sizes []uint8
}

func newCompressedStatus(loc Location, mapID uint32, sizes []uint64) *CompressedStatus {
	coded := make([]uint8, len(sizes))
	for i, s := range sizes {
		coded[i] = CompressSize(s)
	}
	return &CompressedStatus{loc: loc, mapID: mapID, sizes: coded}
}

func (cs *CompressedStatus) Location() Location { return cs.loc }
func (cs *CompressedStatus) MapID() uint32      { return cs.mapID }
func (cs *CompressedStatus) NumPartitions() int { return len(cs.sizes) }

func (cs *CompressedStatus) GetSize(i int) uint64 { return DecompressSize(cs.sizes[i]) }

// HighlyCompressedStatus stores a single average for the bulk of the
// blocks, the empty set as a compressed bitmap, and an outlier table
// for blocks the average would misrepresent.
type HighlyCompressedStatus struct {
	loc         Location
	mapID       uint32
	n           int
	avgSize     uint64
	emptyBlocks *roaring.Bitmap
	exact       map[uint32]uint64
	skewed      map[uint32]uint8
}

func newHighlyCompressedStatus(loc Location, mapID uint32, sizes []uint64, cfg Config) *HighlyCompressedStatus {
	sel := SelectOutliers(sizes, cfg)
	return &HighlyCompressedStatus{
		loc:         loc,
		mapID:       mapID,
		n:           len(sizes),
		avgSize:     sel.AvgSize,
		emptyBlocks: sel.EmptyBlocks,
		exact:       sel.Exact,
		skewed:      sel.Skewed,
	}
}

func (hs *HighlyCompressedStatus) Location() Location { return hs.loc }
func (hs *HighlyCompressedStatus) MapID() uint32      { return hs.mapID }
func (hs *HighlyCompressedStatus) NumPartitions() int { return hs.n }

func (hs *HighlyCompressedStatus) GetSize(i int) uint64 {
	if i < 0 || i >= hs.n {
		panic("shufflemeta: block index out of range")
	}
	idx := uint32(i)
	if hs.emptyBlocks.Contains(idx) {
		return 0
	}
	if s, ok := hs.exact[idx]; ok {
		return s
	}
	if b, ok := hs.skewed[idx]; ok {
		return DecompressSize(b)
	}
	return hs.avgSize
}

// NumOutliers reports how many blocks the status stores individually.
func (hs *HighlyCompressedStatus) NumOutliers() int {
	return len(hs.exact) + len(hs.skewed)
}
