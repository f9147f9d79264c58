package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/wbrown/gpt_jsonl/shards"
)

func TestObserver(t *testing.T) {
	Init()
	Init()

	records := testutil.ToFloat64(RecordsWritten)
	completed := testutil.ToFloat64(ShardsCompleted)
	decodeFailures := testutil.ToFloat64(
		ShardsFailed.WithLabelValues(string(shards.KindDecode)))

	var obs shards.Observer = Observer{}
	obs.IterationDone(0, 0, 1024)
	obs.IterationDone(0, 1, 1024)
	start := time.Now()
	obs.ShardDone(shards.ShardResult{
		State:    shards.Completed,
		Stats:    shards.ShardStats{Records: 2048, CompressedBytes: 4096},
		Started:  start,
		Finished: start.Add(3 * time.Second),
	})
	obs.ShardDone(shards.ShardResult{
		State: shards.Failed,
		Err: &shards.ShardError{Shard: 1, Iteration: 1001, Offset: 7,
			Kind: shards.KindDecode, Err: errors.New("bad id")},
	})

	assert.Equal(t, records+2048, testutil.ToFloat64(RecordsWritten))
	assert.Equal(t, completed+1, testutil.ToFloat64(ShardsCompleted))
	assert.Equal(t, decodeFailures+1, testutil.ToFloat64(
		ShardsFailed.WithLabelValues(string(shards.KindDecode))))
}
