package shufflemeta

import (
	"testing"

	randmath "math/rand"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TargetPostShuffleBytes = 100
	cfg.AccurateBlockThreshold = 1000
	cfg.SkewFactor = 3.0
	cfg.HighlyCompressedThreshold = 10
	cfg.OutlierCapBase = 4
	return cfg
}

func TestSelectOutliersEmptyDetection(t *testing.T) {
	t.Parallel()

	sizes := []uint64{0, 5, 0, 7, 0, 0, 9, 0}
	sel := SelectOutliers(sizes, testConfig())

	for i, s := range sizes {
		if got := sel.EmptyBlocks.Contains(uint32(i)); got != (s == 0) {
			t.Errorf("empty set membership of block %d = %v, size was %d", i, got, s)
		}
	}
	if sel.EmptyBlocks.GetCardinality() != 5 {
		t.Errorf("empty set cardinality = %d, want 5", sel.EmptyBlocks.GetCardinality())
	}
}

func TestSelectOutliersAccurateDominates(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	// block 3 qualifies under both rules: it must be stored exactly
	sizes := []uint64{10, 10, 10, 5000, 10, 10}
	sel := SelectOutliers(sizes, cfg)

	if _, ok := sel.Exact[3]; !ok {
		t.Fatalf("block over the accurate threshold not stored exactly: %+v", sel)
	}
	if _, ok := sel.Skewed[3]; ok {
		t.Fatal("accurate block must not also appear byte-coded")
	}
	if sel.Exact[3] != 5000 {
		t.Fatalf("exact size = %d, want 5000", sel.Exact[3])
	}
}

func TestSelectOutliersSkewRule(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	// avg over non-empty = (10*5 + 200) / 6 = 41; skew cutoff 123;
	// block 5 is skewed but far below the accurate threshold of 1000
	sizes := []uint64{10, 10, 10, 10, 10, 200}
	sel := SelectOutliers(sizes, cfg)

	if _, ok := sel.Skewed[5]; !ok {
		t.Fatalf("skewed block not byte-coded: %+v", sel)
	}
	if _, ok := sel.Exact[5]; ok {
		t.Fatal("skew-only block must not be stored exactly")
	}
	if got := DecompressSize(sel.Skewed[5]); got < 200 {
		t.Fatalf("byte-coded skew block decodes to %d, below its true size 200", got)
	}
	// the average no longer includes the skewed block
	if sel.AvgSize != 10 {
		t.Fatalf("avg = %d, want 10", sel.AvgSize)
	}
}

func TestSelectOutliersCap(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.OutlierCapBase = 3

	// every block is over the accurate threshold; only the 3 largest
	// may be kept
	sizes := []uint64{2000, 9000, 3000, 8000, 4000, 7000}
	sel := SelectOutliers(sizes, cfg)

	if got := len(sel.Exact) + len(sel.Skewed); got != 3 {
		t.Fatalf("outlier count = %d, want 3 (capped)", got)
	}
	for _, i := range []uint32{1, 3, 5} {
		if _, ok := sel.Exact[i]; !ok {
			t.Errorf("largest block %d evicted by the cap", i)
		}
	}
	// avg re-derived over survivors' complement: (2000+3000+4000)/3
	if sel.AvgSize != 3000 {
		t.Fatalf("avg = %d, want 3000 after cap eviction", sel.AvgSize)
	}
}

func TestSelectOutliersCapTieBreak(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.OutlierCapBase = 2

	sizes := []uint64{5000, 5000, 5000, 1}
	sel := SelectOutliers(sizes, cfg)

	if len(sel.Exact) != 2 {
		t.Fatalf("outlier count = %d, want 2", len(sel.Exact))
	}
	for _, i := range []uint32{0, 1} {
		if _, ok := sel.Exact[i]; !ok {
			t.Errorf("tie at equal size must keep lower index %d", i)
		}
	}
}

func TestSelectOutliersAverageFidelity(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	rand := randmath.New(randmath.NewSource(42))

	sizes := make([]uint64, 500)
	for i := range sizes {
		switch rand.Intn(4) {
		case 0:
			sizes[i] = 0
		case 1:
			sizes[i] = uint64(rand.Int63n(50)) + 1
		case 2:
			sizes[i] = uint64(rand.Int63n(90)) + 10
		case 3:
			sizes[i] = uint64(rand.Int63n(100_000)) + 1
		}
	}
	sel := SelectOutliers(sizes, cfg)

	var sum uint64
	count := uint64(0)
	for i, s := range sizes {
		if s == 0 {
			continue
		}
		if _, ok := sel.Exact[uint32(i)]; ok {
			continue
		}
		if _, ok := sel.Skewed[uint32(i)]; ok {
			continue
		}
		sum += s
		count++
	}
	want := uint64(0)
	if count > 0 {
		want = sum / count
	}
	if sel.AvgSize != want {
		t.Fatalf("avg = %d, want truncated mean %d over %d unreported blocks", sel.AvgSize, want, count)
	}
}

func TestOutlierCapFormula(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if got := cfg.outlierCap(500); got != 100 {
		t.Errorf("cap for 500 partitions = %d, want base 100", got)
	}
	if got := cfg.outlierCap(5000); got != 500 {
		t.Errorf("cap for 5000 partitions = %d, want N/10 = 500", got)
	}
}
