package shufflemeta

import "golang.org/x/xerrors"

// Config carries every threshold consumed by the status factory, the
// outlier selector and the exchange coordinator. A Config is plain
// data: construct it once, validate it once, pass it by value. Nothing
// in this package reads configuration from any ambient source.
type Config struct {
	// TargetPostShuffleBytes is the byte budget the coordinator packs
	// each post-shuffle partition towards.
	TargetPostShuffleBytes uint64

	// MinPostShufflePartitions, when positive, is a lower bound on the
	// number of partitions a plan may produce on non-empty data.
	MinPostShufflePartitions int

	// AccurateBlockThreshold: blocks at or above this size are stored
	// with their exact size in highly compressed statuses.
	AccurateBlockThreshold uint64

	// SkewFactor: blocks larger than SkewFactor times the non-empty
	// average are stored individually (byte-coded) even when below the
	// accurate threshold.
	SkewFactor float64

	// HighlyCompressedThreshold: statuses over at least this many
	// partitions use the highly compressed form.
	HighlyCompressedThreshold int

	// OutlierCapBase bounds the outlier table: a status stores at most
	// max(OutlierCapBase, numPartitions/10) outliers.
	OutlierCapBase int
}

// DefaultConfig returns the thresholds used when nothing is tuned.
func DefaultConfig() Config {
	return Config{
		TargetPostShuffleBytes:    64 << 20,
		MinPostShufflePartitions:  0,
		AccurateBlockThreshold:    100 << 20,
		SkewFactor:                5.0,
		HighlyCompressedThreshold: 2000,
		OutlierCapBase:            100,
	}
}

func (c Config) validate() error {
	if c.TargetPostShuffleBytes == 0 {
		return xerrors.Errorf("target post-shuffle bytes must be positive: %w", ErrConfig)
	}
	if c.MinPostShufflePartitions < 0 {
		return xerrors.Errorf("minimum post-shuffle partitions %d must not be negative: %w", c.MinPostShufflePartitions, ErrConfig)
	}
	if c.AccurateBlockThreshold == 0 {
		return xerrors.Errorf("accurate block threshold must be positive: %w", ErrConfig)
	}
	if c.SkewFactor <= 0 {
		return xerrors.Errorf("skew factor %f must be positive: %w", c.SkewFactor, ErrConfig)
	}
	if c.HighlyCompressedThreshold <= 0 {
		return xerrors.Errorf("highly compressed threshold %d must be positive: %w", c.HighlyCompressedThreshold, ErrConfig)
	}
	if c.OutlierCapBase <= 0 {
		return xerrors.Errorf("outlier cap base %d must be positive: %w", c.OutlierCapBase, ErrConfig)
	}
	return nil
}

// outlierCap is the effective bound on stored outliers for a status
// covering n partitions.
func (c Config) outlierCap(n int) int {
	if tenth := n / 10; tenth > c.OutlierCapBase {
		return tenth
	}
	return c.OutlierCapBase
}
