package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/gpt_jsonl"
	"github.com/wbrown/gpt_jsonl/corpus"
	"github.com/wbrown/gpt_jsonl/internal/testutils"
	"github.com/wbrown/gpt_jsonl/shards"
	"github.com/wbrown/gpt_jsonl/types"
)

// materialize writes shards [first, end) of 2 iterations x 3 documents into
// a nested output directory, returning the tokenizer and output dirs.
func materialize(t *testing.T, first, end int) (string, string) {
	prefix := filepath.Join(t.TempDir(), "document")
	testutils.WriteIndexedDataset(t, prefix, testutils.Documents(end*6, 7),
		types.DTypeUint16)
	tokDir := t.TempDir()
	testutils.WriteTokenizer(t, tokDir, nil)

	outDir := t.TempDir()
	cfg := shards.NewConfig()
	cfg.StepsPerShard, cfg.BatchSize, cfg.Workers = 2, 3, 2
	cfg.OutputDir = filepath.Join(outDir, "run1")
	exec := shards.NewExecutor(cfg,
		func() (shards.Corpus, error) { return corpus.Open(prefix) },
		func() (shards.Decoder, error) {
			return gpt_jsonl.NewDecoderWithOptions(tokDir, t.TempDir(),
				gpt_jsonl.DecoderOptions{})
		})
	report, err := exec.Run(context.Background(), first, end)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	return tokDir, outDir
}

func TestGlobShards(t *testing.T) {
	_, outDir := materialize(t, 0, 3)
	pathInfos, err := GlobShards(outDir)
	require.NoError(t, err)
	require.Len(t, pathInfos, 3)
	for idx, info := range pathInfos {
		assert.Equal(t, idx*2, info.Start)
		assert.Equal(t, idx*2+2, info.End)
		assert.Greater(t, info.Size, int64(0))
	}
	gaps, overlaps := FindGaps(pathInfos)
	assert.Empty(t, gaps)
	assert.Empty(t, overlaps)

	_, err = GlobShards(t.TempDir())
	assert.Error(t, err)
}

func TestFindGaps(t *testing.T) {
	gaps, overlaps := FindGaps([]PathInfo{
		{Path: "a", Start: 0, End: 10},
		{Path: "b", Start: 20, End: 30},
		{Path: "c", Start: 25, End: 35},
	})
	assert.Equal(t, [][2]int{{10, 20}}, gaps)
	assert.Equal(t, []string{"c"}, overlaps)
}

func TestRun(t *testing.T) {
	tokDir, outDir := materialize(t, 0, 3)
	var stdout, stderr bytes.Buffer
	code := run([]string{"-input", outDir, "-batch_size", "3",
		"-tokenizer", tokDir, "-tokenizer_cache", t.TempDir()},
		&stdout, &stderr)
	assert.Equal(t, 0, code, stdout.String()+stderr.String())
	assert.Contains(t, stdout.String(), "3 files, 0 failed, 18 records")

	// A truncated shard fails.
	path := filepath.Join(outDir, "run1", shards.FileName("pythia", 2, 4))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0644))
	stdout.Reset()
	code = run([]string{"-input", outDir, "-batch_size", "3"}, &stdout,
		&stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), "FAIL")
}

func TestRunGaps(t *testing.T) {
	_, outDir := materialize(t, 0, 3)
	require.NoError(t, os.Remove(filepath.Join(outDir, "run1",
		shards.FileName("pythia", 2, 4))))
	var stdout bytes.Buffer
	assert.Equal(t, 1, run([]string{"-input", outDir, "-batch_size", "3"},
		&stdout, &bytes.Buffer{}))
	assert.Contains(t, stdout.String(), "GAP  iterations 2-3")
	assert.Equal(t, 0, run([]string{"-input", outDir, "-batch_size", "3",
		"-allow_gaps"}, &bytes.Buffer{}, &bytes.Buffer{}))

	assert.Equal(t, 2, run([]string{}, &bytes.Buffer{}, &bytes.Buffer{}))
}
