package shards

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
)

const FileSuffix = ".jsonl.gz"

// ShardTask is the unit of work for one output file: iterations
// [StartIteration, EndIteration) written to OutputPath.
type ShardTask struct {
	Shard          int
	StartIteration int
	EndIteration   int
	OutputPath     string
}

// FileName names the shard covering iterations [start, end).
func FileName(prefix string, start, end int) string {
	return fmt.Sprintf("%s-%05d-%05d%s", prefix, start, end-1, FileSuffix)
}

var fileNamePat = regexp.MustCompile(`^(.+)-(\d{5,})-(\d{5,})\.jsonl\.gz$`)

// ParseFileName recovers the prefix and iteration range [start, end) from a
// shard file name.
func ParseFileName(name string) (prefix string, start, end int, err error) {
	m := fileNamePat.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", 0, 0, fmt.Errorf("%q is not a shard file name", name)
	}
	start, err = strconv.Atoi(m[2])
	if err != nil {
		return "", 0, 0, fmt.Errorf("%q: %w", name, err)
	}
	last, err := strconv.Atoi(m[3])
	if err != nil {
		return "", 0, 0, fmt.Errorf("%q: %w", name, err)
	}
	if last < start {
		return "", 0, 0, fmt.Errorf("%q has an empty iteration range", name)
	}
	return m[1], start, last + 1, nil
}

// Plan maps a shard index onto its iteration range and output path. It has
// no side effects; the same arguments always yield the same task.
func Plan(shard, stepsPerShard, batchSize int, outputDir,
	prefix string) (ShardTask, error) {
	switch {
	case shard < 0:
		return ShardTask{}, fmt.Errorf("negative shard index %d", shard)
	case stepsPerShard <= 0:
		return ShardTask{}, fmt.Errorf("steps per shard must be positive, "+
			"got %d", stepsPerShard)
	case batchSize <= 0:
		return ShardTask{}, fmt.Errorf("batch size must be positive, got %d",
			batchSize)
	case prefix == "":
		return ShardTask{}, errors.New("empty shard file prefix")
	}
	start := shard * stepsPerShard
	end := start + stepsPerShard
	if start/stepsPerShard != shard || end*batchSize/batchSize != end {
		return ShardTask{}, fmt.Errorf("shard %d overflows the document "+
			"index space", shard)
	}
	return ShardTask{
		Shard:          shard,
		StartIteration: start,
		EndIteration:   end,
		OutputPath:     filepath.Join(outputDir, FileName(prefix, start, end)),
	}, nil
}
