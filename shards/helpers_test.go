package shards

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/gpt_jsonl/corpus"
	"github.com/wbrown/gpt_jsonl/internal/testutils"
	"github.com/wbrown/gpt_jsonl/types"
)

// memCorpus serves documents from memory and counts opens and closes.
type memCorpus struct {
	docs   []types.Tokens
	closes *int32
}

func (c *memCorpus) Len() int { return len(c.docs) }

func (c *memCorpus) Window(start, end int) ([]types.Tokens, error) {
	if start < 0 || end <= start || end > len(c.docs) {
		return nil, &corpus.RangeError{Start: start, End: end,
			Length: len(c.docs)}
	}
	return c.docs[start:end], nil
}

func (c *memCorpus) Close() error {
	if c.closes != nil {
		atomic.AddInt32(c.closes, 1)
	}
	return nil
}

// genCorpus synthesises n documents without holding them in memory.
type genCorpus struct {
	n     int
	width int
}

func (c *genCorpus) Len() int { return c.n }

func (c *genCorpus) Window(start, end int) ([]types.Tokens, error) {
	if start < 0 || end <= start || end > c.n {
		return nil, &corpus.RangeError{Start: start, End: end, Length: c.n}
	}
	window := make([]types.Tokens, end-start)
	for i := range window {
		doc := make(types.Tokens, c.width)
		for j := range doc {
			doc[j] = testutils.ByteToken(byte('a' + (start+i+j)%26))
		}
		window[i] = doc
	}
	return window, nil
}

func (c *genCorpus) Close() error { return nil }

// byteDecoder decodes fixture byte tokens. It panics on panicOn and sleeps
// for delay per document.
type byteDecoder struct {
	panicOn types.Token
	delay   time.Duration
}

func (d byteDecoder) Decode(tokens types.Tokens) (string, error) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	bs := make([]byte, len(tokens))
	for idx, token := range tokens {
		if d.panicOn != 0 && token == d.panicOn {
			panic("poisoned token")
		}
		if token < 1 || token > 256 {
			return "", fmt.Errorf("position %d: unknown token %d", idx, token)
		}
		bs[idx] = byte(token - 1)
	}
	return string(bs), nil
}

type testEnv struct {
	docs   []types.Tokens
	opens  int32
	closes int32
}

func newTestEnv(docs []types.Tokens) *testEnv {
	return &testEnv{docs: docs}
}

func (env *testEnv) openCorpus() (Corpus, error) {
	atomic.AddInt32(&env.opens, 1)
	return &memCorpus{docs: env.docs, closes: &env.closes}, nil
}

func testConfig(dir string, steps, batch, workers int) Config {
	cfg := NewConfig()
	cfg.OutputDir = dir
	cfg.StepsPerShard = steps
	cfg.BatchSize = batch
	cfg.Workers = workers
	return cfg
}

func readShard(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	records := make([]Record, 0)
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<26)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}
