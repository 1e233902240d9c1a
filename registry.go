package shufflemeta

import (
	"runtime"
	"sort"
	"sync"

	sha256simd "github.com/minio/sha256-simd"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// TotalSizes reduces the statuses of one shuffle into a per-partition
// total-size vector: element j is the sum of GetSize(j) across all
// statuses, accumulated in ascending MapID order so results are
// bit-exact across executions.
//
// The partition space is split into contiguous column ranges worked in
// parallel; each column is owned by exactly one goroutine, so the
// per-column accumulation order never varies.
func TotalSizes(statuses []MapStatus, numPartitions int) ([]uint64, error) {
	if numPartitions <= 0 {
		return nil, xerrors.Errorf("partition count %d must be positive: %w", numPartitions, ErrShapeMismatch)
	}
	for _, s := range statuses {
		if s.NumPartitions() != numPartitions {
			return nil, xerrors.Errorf(
				"status of map %d covers %d partitions, want %d: %w",
				s.MapID(), s.NumPartitions(), numPartitions, ErrShapeMismatch,
			)
		}
	}

	ordered := make([]MapStatus, len(statuses))
	copy(ordered, statuses)
	sort.Slice(ordered, func(a, b int) bool { return ordered[a].MapID() < ordered[b].MapID() })

	totals := make([]uint64, numPartitions)

	workers := runtime.GOMAXPROCS(0)
	if workers > numPartitions {
		workers = numPartitions
	}
	stride := (numPartitions + workers - 1) / workers

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		lo := w * stride
		hi := lo + stride
		if hi > numPartitions {
			hi = numPartitions
		}
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			for _, s := range ordered {
				for j := lo; j < hi; j++ {
					totals[j] += s.GetSize(j)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return totals, nil
}

// Registry is the driver-side home of map output statuses, keyed by
// shuffle id. Statuses are immutable; the registry hands out snapshots
// so readers never query sizes under the lock.
type Registry struct {
	mu       sync.RWMutex
	shuffles map[int]*shuffleState
}

type shuffleState struct {
	numPartitions int
	statuses      map[uint32]MapStatus
}

// NewRegistry returns an empty registry ready for use.
func NewRegistry() *Registry {
	return &Registry{shuffles: make(map[int]*shuffleState)}
}

// RegisterShuffle announces a shuffle and its downstream partition
// count. Re-registering with the same count is a no-op; with a
// different count it fails.
func (r *Registry) RegisterShuffle(shuffleID, numPartitions int) error {
	if numPartitions <= 0 {
		return xerrors.Errorf("shuffle %d: partition count %d must be positive: %w", shuffleID, numPartitions, ErrShapeMismatch)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.shuffles[shuffleID]; ok {
		if st.numPartitions != numPartitions {
			return xerrors.Errorf(
				"shuffle %d already registered with %d partitions, not %d: %w",
				shuffleID, st.numPartitions, numPartitions, ErrShapeMismatch,
			)
		}
		return nil
	}
	r.shuffles[shuffleID] = &shuffleState{
		numPartitions: numPartitions,
		statuses:      make(map[uint32]MapStatus),
	}
	return nil
}

// AddStatus records a map output for a registered shuffle. A repeated
// MapID overwrites the previous status: map attempts are retried by
// the scheduler and the newest attempt wins.
func (r *Registry) AddStatus(shuffleID int, s MapStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.shuffles[shuffleID]
	if !ok {
		return xerrors.Errorf("shuffle %d: %w", shuffleID, ErrUnknownShuffle)
	}
	if s.NumPartitions() != st.numPartitions {
		return xerrors.Errorf(
			"shuffle %d: status of map %d covers %d partitions, want %d: %w",
			shuffleID, s.MapID(), s.NumPartitions(), st.numPartitions, ErrShapeMismatch,
		)
	}
	st.statuses[s.MapID()] = s
	return nil
}

// RemoveStatus drops one map output, typically because its executor
// was lost and the attempt will be rescheduled.
func (r *Registry) RemoveStatus(shuffleID int, mapID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.shuffles[shuffleID]
	if !ok {
		return xerrors.Errorf("shuffle %d: %w", shuffleID, ErrUnknownShuffle)
	}
	if _, ok := st.statuses[mapID]; !ok {
		return xerrors.Errorf("shuffle %d map %d: %w", shuffleID, mapID, ErrUnknownMap)
	}
	delete(st.statuses, mapID)
	return nil
}

// UnregisterShuffle forgets a shuffle and every status under it.
func (r *Registry) UnregisterShuffle(shuffleID int) {
	r.mu.Lock()
	delete(r.shuffles, shuffleID)
	r.mu.Unlock()
}

// NumPartitions reports the downstream partition count of a shuffle.
func (r *Registry) NumPartitions(shuffleID int) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.shuffles[shuffleID]
	if !ok {
		return 0, xerrors.Errorf("shuffle %d: %w", shuffleID, ErrUnknownShuffle)
	}
	return st.numPartitions, nil
}

// Statuses returns a snapshot of a shuffle's statuses sorted by MapID.
func (r *Registry) Statuses(shuffleID int) ([]MapStatus, error) {
	r.mu.RLock()
	st, ok := r.shuffles[shuffleID]
	if !ok {
		r.mu.RUnlock()
		return nil, xerrors.Errorf("shuffle %d: %w", shuffleID, ErrUnknownShuffle)
	}
	snap := make([]MapStatus, 0, len(st.statuses))
	for _, s := range st.statuses {
		snap = append(snap, s)
	}
	r.mu.RUnlock()

	sort.Slice(snap, func(a, b int) bool { return snap[a].MapID() < snap[b].MapID() })
	return snap, nil
}

// SizeVector aggregates a shuffle's statuses into its per-partition
// total-size vector.
func (r *Registry) SizeVector(shuffleID int) ([]uint64, error) {
	n, err := r.NumPartitions(shuffleID)
	if err != nil {
		return nil, err
	}
	snap, err := r.Statuses(shuffleID)
	if err != nil {
		return nil, err
	}
	return TotalSizes(snap, n)
}

// Fingerprint digests a shuffle's registered status set (serialized in
// MapID order) with sha256. Replicated drivers compare fingerprints to
// verify they hold identical metadata before committing to a plan.
func (r *Registry) Fingerprint(shuffleID int) ([]byte, error) {
	snap, err := r.Statuses(shuffleID)
	if err != nil {
		return nil, err
	}
	h := sha256simd.New()
	for _, s := range snap {
		if err := WriteStatus(h, s); err != nil {
			return nil, err
		}
	}
	return h.Sum(nil), nil
}

// counts feeds the prometheus collector.
func (r *Registry) counts() (shuffles, statuses int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	shuffles = len(r.shuffles)
	for _, st := range r.shuffles {
		statuses += len(st.statuses)
	}
	return
}
