package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/yargevad/filepathx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wbrown/gpt_jsonl"
	"github.com/wbrown/gpt_jsonl/shards"
)

type PathInfo struct {
	Path  string
	Size  int64
	Start int
	End   int
}

// GlobShards
// Given a directory path, recursively finds all shard files, returning them
// ordered by the iteration range in their names.
func GlobShards(dirPath string) ([]PathInfo, error) {
	paths, err := filepathx.Glob(dirPath + "/**/*" + shards.FileSuffix)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s does not contain any %s files", dirPath,
			shards.FileSuffix)
	}
	pathInfos := make([]PathInfo, 0, len(paths))
	for _, path := range paths {
		_, start, end, nameErr := shards.ParseFileName(path)
		if nameErr != nil {
			return nil, nameErr
		}
		stat, statErr := os.Stat(path)
		if statErr != nil {
			return nil, statErr
		}
		pathInfos = append(pathInfos, PathInfo{
			Path:  path,
			Size:  stat.Size(),
			Start: start,
			End:   end,
		})
	}
	sort.Slice(pathInfos, func(i, j int) bool {
		if pathInfos[i].Start != pathInfos[j].Start {
			return pathInfos[i].Start < pathInfos[j].Start
		}
		return pathInfos[i].Path < pathInfos[j].Path
	})
	return pathInfos, nil
}

// FindGaps returns the iteration ranges [start, end) that no shard covers
// between the first and the last shard, and any overlapping shards.
func FindGaps(pathInfos []PathInfo) (gaps [][2]int, overlaps []string) {
	for idx := 1; idx < len(pathInfos); idx++ {
		prev, curr := pathInfos[idx-1], pathInfos[idx]
		switch {
		case curr.Start > prev.End:
			gaps = append(gaps, [2]int{prev.End, curr.Start})
		case curr.Start < prev.End:
			overlaps = append(overlaps, curr.Path)
		}
	}
	return gaps, overlaps
}

type verified struct {
	info   PathInfo
	result shards.VerifyResult
	err    error
}

func verifyAll(pathInfos []PathInfo, opts shards.VerifyOptions,
	workers int) []verified {
	results := make([]verified, len(pathInfos))
	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexes {
				result, err := shards.VerifyShard(pathInfos[idx].Path, opts)
				results[idx] = verified{info: pathInfos[idx], result: result,
					err: err}
			}
		}()
	}
	for idx := range pathInfos {
		indexes <- idx
	}
	close(indexes)
	wg.Wait()
	return results
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("shard_verifier", flag.ContinueOnError)
	fs.SetOutput(stderr)
	input := fs.String("input", "", "directory holding shard files")
	batchSize := fs.Int("batch_size", 1024,
		"records per iteration, 0 to skip count checks")
	tokenizerId := fs.String("tokenizer", "",
		"re-decode token_ids with this tokenizer and compare with text")
	tokenizerCache := fs.String("tokenizer_cache",
		gpt_jsonl.DefaultCacheRoot(), "where remote tokenizers are cached")
	workers := fs.Int("workers", 4, "files verified concurrently")
	allowGaps := fs.Bool("allow_gaps", false,
		"do not fail when shard ranges leave gaps")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *input == "" || *workers <= 0 || *batchSize < 0 {
		fs.Usage()
		return 2
	}

	logger := zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(stderr), zap.InfoLevel))
	defer logger.Sync()

	pathInfos, err := GlobShards(*input)
	if err != nil {
		logger.Error("finding shards", zap.Error(err))
		return 1
	}
	opts := shards.VerifyOptions{BatchSize: *batchSize}
	if *tokenizerId != "" {
		decoder, decoderErr := gpt_jsonl.NewDecoderWithOptions(*tokenizerId,
			*tokenizerCache, gpt_jsonl.DecoderOptions{})
		if decoderErr != nil {
			logger.Error("loading tokenizer", zap.Error(decoderErr))
			return 1
		}
		opts.Decoder = decoder
	}

	failed := 0
	var totalSize int64
	var totalRecords int
	for _, v := range verifyAll(pathInfos, opts, *workers) {
		totalSize += v.info.Size
		if v.err != nil {
			failed++
			fmt.Fprintf(stdout, "FAIL %s: %v\n", v.info.Path, v.err)
			continue
		}
		totalRecords += v.result.Records
		fmt.Fprintf(stdout, "ok   %s %s records, %s\n", v.info.Path,
			humanize.Comma(int64(v.result.Records)),
			humanize.Bytes(uint64(v.info.Size)))
	}
	gaps, overlaps := FindGaps(pathInfos)
	for _, gap := range gaps {
		fmt.Fprintf(stdout, "GAP  iterations %d-%d have no shard\n", gap[0],
			gap[1]-1)
	}
	for _, path := range overlaps {
		fmt.Fprintf(stdout, "OVERLAP %s\n", path)
	}
	fmt.Fprintf(stdout, "%d files, %d failed, %s records, %s\n",
		len(pathInfos), failed, humanize.Comma(int64(totalRecords)),
		humanize.Bytes(uint64(totalSize)))

	if failed > 0 || len(overlaps) > 0 || (len(gaps) > 0 && !*allowGaps) {
		return 1
	}
	return 0
}
