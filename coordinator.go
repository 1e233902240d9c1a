package shufflemeta

import "golang.org/x/xerrors"

// ExchangeCoordinator turns per-partition size vectors into a
// post-shuffle partition plan: the ordered list of start indices whose
// ranges downstream readers fetch. It owns no mutable state; a plan is
// a pure function of the inputs and the configuration.
type ExchangeCoordinator struct {
	cfg Config
}

// NewExchangeCoordinator validates the configuration once; every
// later Plan call runs against the frozen copy.
func NewExchangeCoordinator(cfg Config) (*ExchangeCoordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &ExchangeCoordinator{cfg: cfg}, nil
}

// Plan computes post-shuffle partition start indices for one or more
// participating shuffles. All vectors must share one length; the same
// start sequence applies to every input, which is what lets sort-merge
// consumers align partitions across shuffles.
//
// The sweep packs pre-shuffle ids left to right until adding one would
// exceed the byte target; an id whose own total exceeds the target
// lands in a partition of its own. When a minimum partition count is
// configured and the sweep comes up short on non-empty data, the sweep
// reruns with the target lowered to total/min; empty data always
// yields the single partition [0].
func (c *ExchangeCoordinator) Plan(vectors ...[]uint64) ([]int, error) {
	if len(vectors) == 0 {
		return nil, xerrors.Errorf("no input size vectors: %w", ErrShapeMismatch)
	}
	n := len(vectors[0])
	if n == 0 {
		return nil, xerrors.Errorf("empty size vectors: %w", ErrShapeMismatch)
	}
	for i, v := range vectors[1:] {
		if len(v) != n {
			return nil, xerrors.Errorf(
				"input %d has %d partitions, input 0 has %d: %w",
				i+1, len(v), n, ErrShapeMismatch,
			)
		}
	}
	min := c.cfg.MinPostShufflePartitions
	if min > n {
		return nil, xerrors.Errorf(
			"minimum of %d partitions exceeds pre-shuffle partition count %d: %w",
			min, n, ErrConfig,
		)
	}

	summed := make([]uint64, n)
	var total uint64
	for _, v := range vectors {
		for j, s := range v {
			summed[j] += s
			total += s
		}
	}

	// the minimum is never enforced on empty data
	if total == 0 {
		return []int{0}, nil
	}

	starts := sweep(summed, c.cfg.TargetPostShuffleBytes)
	if min > 0 && len(starts) < min {
		adjusted := total / uint64(min)
		if adjusted < 1 {
			adjusted = 1
		}
		starts = sweep(summed, adjusted)
		if len(starts) < min {
			// pathological skew defeats even the adjusted target; fall
			// back to evenly spaced starts to honor the floor
			starts = make([]int, min)
			for j := range starts {
				starts[j] = j * n / min
			}
		}
	}
	return starts, nil
}

// sweep is the single left-to-right pass: open a new partition
// whenever admitting the next id would push a non-empty accumulator
// past the target.
func sweep(summed []uint64, target uint64) []int {
	starts := []int{0}
	var accum uint64
	for j, s := range summed {
		if accum+s > target && accum > 0 {
			starts = append(starts, j)
			accum = s
		} else {
			accum += s
		}
	}
	return starts
}

// PartitionRange is one contiguous range of pre-shuffle partition ids,
// end exclusive.
type PartitionRange struct {
	Start int
	End   int
}

// PartitionRanges expands a plan over n pre-shuffle partitions into
// explicit [start, end) ranges for consumers.
func PartitionRanges(starts []int, n int) []PartitionRange {
	ranges := make([]PartitionRange, len(starts))
	for i, s := range starts {
		end := n
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		ranges[i] = PartitionRange{Start: s, End: end}
	}
	return ranges
}
