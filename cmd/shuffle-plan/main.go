package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"

	shufflemeta "github.com/Serrala-Test/go-shuffle-meta"
	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/pborman/options"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {

	opts := &struct {
		TargetBytes   uint64       `getopt:"-t --target-bytes    Byte budget per post-shuffle partition"`
		MinPartitions int          `getopt:"-m --min-partitions  Optional lower bound on produced partitions"`
		StatusBatch   bool         `getopt:"-s --status-batch    Input is a binary map-status batch rather than JSON size vectors"`
		Help          options.Help `getopt:"-h --help            Display help"`
	}{
		TargetBytes: shufflemeta.DefaultConfig().TargetPostShuffleBytes,
	}

	args := options.RegisterAndParse(opts)

	input := io.Reader(os.Stdin)
	if len(args) > 0 {
		f, err := os.Open(args[0])
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		input = f
	} else if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		log.Println("Reading from STDIN...")
	}

	vectors, err := readVectors(bufio.NewReader(input), opts.StatusBatch)
	if err != nil {
		log.Fatal(err)
	}

	cfg := shufflemeta.DefaultConfig()
	cfg.TargetPostShuffleBytes = opts.TargetBytes
	cfg.MinPostShufflePartitions = opts.MinPartitions

	coord, err := shufflemeta.NewExchangeCoordinator(cfg)
	if err != nil {
		log.Fatal(err)
	}
	starts, err := coord.Plan(vectors...)
	if err != nil {
		log.Fatal(err)
	}

	n := len(vectors[0])
	summed := make([]uint64, n)
	var total uint64
	for _, v := range vectors {
		for j, s := range v {
			summed[j] += s
			total += s
		}
	}

	fmt.Fprintf(os.Stderr, `
Inputs:         % 12d shuffle(s)
Pre-shuffle:    % 12d partitions
Total:          % 12d bytes
Post-shuffle:   % 12d partitions
`,
		len(vectors),
		n,
		total,
		len(starts),
	)
	for i, pr := range shufflemeta.PartitionRanges(starts, n) {
		var rangeSum uint64
		for j := pr.Start; j < pr.End; j++ {
			rangeSum += summed[j]
		}
		fmt.Fprintf(os.Stderr, "  partition % 4d  covers [% 5d, % 5d)  % 12d bytes\n", i, pr.Start, pr.End, rangeSum)
	}

	out, err := json.Marshal(starts)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s\n", out)
}

// readVectors accepts either JSON (one size vector, or an array of
// them, one per participating shuffle) or a binary status batch as
// written by shufflemeta.WriteStatusBatch, which is aggregated into a
// single vector first.
func readVectors(r io.Reader, statusBatch bool) ([][]uint64, error) {

	if statusBatch {
		statuses, err := shufflemeta.ReadStatusBatch(r)
		if err != nil {
			return nil, err
		}
		if len(statuses) == 0 {
			return nil, fmt.Errorf("status batch holds no statuses")
		}
		vec, err := shufflemeta.TotalSizes(statuses, statuses[0].NumPartitions())
		if err != nil {
			return nil, err
		}
		return [][]uint64{vec}, nil
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var multi [][]uint64
	if err := json.Unmarshal(raw, &multi); err == nil {
		return multi, nil
	}
	var single []uint64
	if err := json.Unmarshal(raw, &single); err == nil {
		return [][]uint64{single}, nil
	}
	return nil, fmt.Errorf("input is neither a JSON size vector nor an array of them")
}
