package shufflemeta

import (
	"errors"
	"testing"

	randmath "math/rand"
)

func newCoordinator(t *testing.T, target uint64, min int) *ExchangeCoordinator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TargetPostShuffleBytes = target
	cfg.MinPostShufflePartitions = min
	c, err := NewExchangeCoordinator(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func plansEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPlanScenarios(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		target  uint64
		min     int
		vectors [][]uint64
		want    []int
	}{
		{
			name:    "simple-pack",
			target:  100,
			vectors: [][]uint64{{10, 0, 90, 20, 0}},
			want:    []int{0, 3},
		},
		{
			name:    "oversize-singletons",
			target:  100,
			vectors: [][]uint64{{110, 10, 100, 110, 0}},
			want:    []int{0, 1, 2, 3, 4},
		},
		{
			name:   "sum-based-packing",
			target: 100,
			vectors: [][]uint64{
				{0, 10, 0, 20, 0},
				{30, 0, 70, 0, 30},
			},
			want: []int{0, 2, 4},
		},
		{
			name:   "minimum-partitions-adjusts-target",
			target: 100,
			min:    2,
			vectors: [][]uint64{
				{10, 5, 5, 0, 20},
				{5, 10, 0, 10, 5},
			},
			want: []int{0, 3},
		},
		{
			name:    "everything-fits",
			target:  1000,
			vectors: [][]uint64{{10, 20, 30}},
			want:    []int{0},
		},
		{
			name:    "empty-data-ignores-minimum",
			target:  100,
			min:     3,
			vectors: [][]uint64{{0, 0, 0, 0}},
			want:    []int{0},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := newCoordinator(t, tc.target, tc.min)
			got, err := c.Plan(tc.vectors...)
			if err != nil {
				t.Fatal(err)
			}
			if !plansEqual(got, tc.want) {
				t.Fatalf("plan = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPlanShapeMismatch(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t, 100, 0)
	_, err := c.Plan(make([]uint64, 5), make([]uint64, 6))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
	if _, err := c.Plan(); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("no vectors: err = %v, want ErrShapeMismatch", err)
	}
	if _, err := c.Plan([]uint64{}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("zero-length vectors: err = %v, want ErrShapeMismatch", err)
	}
}

func TestPlanConfigErrors(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.TargetPostShuffleBytes = 0
	if _, err := NewExchangeCoordinator(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("zero target: err = %v, want ErrConfig", err)
	}

	cfg = DefaultConfig()
	cfg.MinPostShufflePartitions = -1
	if _, err := NewExchangeCoordinator(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("negative minimum: err = %v, want ErrConfig", err)
	}

	// the minimum can only be checked against N once vectors arrive
	c := newCoordinator(t, 100, 10)
	if _, err := c.Plan([]uint64{1, 2, 3}); !errors.Is(err, ErrConfig) {
		t.Fatalf("minimum above N: err = %v, want ErrConfig", err)
	}
}

func TestPlanStartIndexInvariants(t *testing.T) {
	t.Parallel()

	rand := randmath.New(randmath.NewSource(4242))
	c := newCoordinator(t, 1<<16, 0)

	for trial := 0; trial < 200; trial++ {
		n := rand.Intn(400) + 1
		vec := make([]uint64, n)
		for j := range vec {
			if rand.Intn(3) > 0 {
				vec[j] = uint64(rand.Int63n(1 << 14))
			}
		}
		starts, err := c.Plan(vec)
		if err != nil {
			t.Fatal(err)
		}
		if starts[0] != 0 {
			t.Fatalf("trial %d: plan %v does not start at 0", trial, starts)
		}
		for i := 1; i < len(starts); i++ {
			if starts[i] <= starts[i-1] || starts[i] >= n {
				t.Fatalf("trial %d: plan %v not strictly increasing within [0, %d)", trial, starts, n)
			}
		}
	}
}

// per-range sums must add back up to the input total, and every
// multi-id range must respect the byte target
func TestPlanSumAndBudgetInvariance(t *testing.T) {
	t.Parallel()

	const target = 1 << 12
	rand := randmath.New(randmath.NewSource(777))
	c := newCoordinator(t, target, 0)

	for trial := 0; trial < 100; trial++ {
		n := rand.Intn(300) + 1
		vec := make([]uint64, n)
		var total uint64
		for j := range vec {
			vec[j] = uint64(rand.Int63n(1 << 11))
			total += vec[j]
		}

		starts, err := c.Plan(vec)
		if err != nil {
			t.Fatal(err)
		}

		var regained uint64
		for _, pr := range PartitionRanges(starts, n) {
			var rangeSum uint64
			for j := pr.Start; j < pr.End; j++ {
				rangeSum += vec[j]
			}
			regained += rangeSum
			if pr.End-pr.Start > 1 && rangeSum > target {
				t.Fatalf("trial %d: range [%d,%d) sums to %d over target %d", trial, pr.Start, pr.End, rangeSum, target)
			}
		}
		if regained != total {
			t.Fatalf("trial %d: ranges sum to %d, input total %d", trial, regained, total)
		}
	}
}

func TestPlanMatchingShapeAcrossInputs(t *testing.T) {
	t.Parallel()

	rand := randmath.New(randmath.NewSource(888))
	c := newCoordinator(t, 500, 0)

	const n = 64
	a := make([]uint64, n)
	b := make([]uint64, n)
	for j := 0; j < n; j++ {
		a[j] = uint64(rand.Int63n(200))
		b[j] = uint64(rand.Int63n(200))
	}

	ab, err := c.Plan(a, b)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := c.Plan(b, a)
	if err != nil {
		t.Fatal(err)
	}
	if !plansEqual(ab, ba) {
		t.Fatalf("plan depends on input order: %v vs %v", ab, ba)
	}
}

func TestPlanMinimumFloorFallback(t *testing.T) {
	t.Parallel()

	// all bytes on one id: no sweep can produce 3 partitions, the
	// floor falls back to evenly spaced starts
	c := newCoordinator(t, 100, 3)
	starts, err := c.Plan([]uint64{1000, 0, 0, 0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(starts) != 3 {
		t.Fatalf("plan %v has %d partitions, floor is 3", starts, len(starts))
	}
	if !plansEqual(starts, []int{0, 2, 4}) {
		t.Fatalf("plan = %v, want evenly spaced [0 2 4]", starts)
	}
}

func TestPlanOversizeIsolation(t *testing.T) {
	t.Parallel()

	c := newCoordinator(t, 100, 0)
	starts, err := c.Plan([]uint64{10, 500, 10})
	if err != nil {
		t.Fatal(err)
	}
	if !plansEqual(starts, []int{0, 1, 2}) {
		t.Fatalf("plan = %v, want the oversize id isolated: [0 1 2]", starts)
	}
}

func TestPlanEndToEndFromRegistry(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TargetPostShuffleBytes = 1 << 20

	r := NewRegistry()
	if err := r.RegisterShuffle(11, 40); err != nil {
		t.Fatal(err)
	}
	rand := randmath.New(randmath.NewSource(11))
	for m := 0; m < 30; m++ {
		s, err := NewMapStatus(testLoc, uint32(m), randomSizes(rand, 40), cfg)
		if err != nil {
			t.Fatal(err)
		}
		if err := r.AddStatus(11, s); err != nil {
			t.Fatal(err)
		}
	}

	vec, err := r.SizeVector(11)
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewExchangeCoordinator(cfg)
	if err != nil {
		t.Fatal(err)
	}
	starts, err := c.Plan(vec)
	if err != nil {
		t.Fatal(err)
	}

	ranges := PartitionRanges(starts, 40)
	if ranges[len(ranges)-1].End != 40 {
		t.Fatalf("last range %+v does not close the partition space", ranges[len(ranges)-1])
	}
	covered := 0
	for _, pr := range ranges {
		covered += pr.End - pr.Start
	}
	if covered != 40 {
		t.Fatalf("ranges cover %d pre-shuffle ids, want 40", covered)
	}
}
