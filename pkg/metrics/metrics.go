package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wbrown/gpt_jsonl/shards"
)

var (
	ShardsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gpt_jsonl",
		Name:      "shards_completed_total",
		Help:      "Shards committed or skipped because they already existed.",
	})
	ShardsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpt_jsonl",
		Name:      "shards_failed_total",
		Help:      "Shards that failed, by error kind.",
	}, []string{"kind"})
	IterationsMaterialized = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gpt_jsonl",
		Name:      "iterations_materialized_total",
		Help:      "Training iterations fully written into a shard.",
	})
	RecordsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gpt_jsonl",
		Name:      "records_written_total",
		Help:      "JSON lines written, including those of shards that later failed.",
	})
	ShardBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gpt_jsonl",
		Name:      "shard_bytes_total",
		Help:      "Compressed bytes of committed shard files.",
	})
	ShardDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gpt_jsonl",
		Name:      "shard_duration_seconds",
		Help:      "Wall-clock time from shard start to completion or failure.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	})
)

var initOnce sync.Once

// Init registers collectors. Only the first call has an effect.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(ShardsCompleted, ShardsFailed,
			IterationsMaterialized, RecordsWritten, ShardBytes, ShardDuration)
	})
}

// Serve starts a /metrics server on the given addr (e.g., ":9090"). It
// blocks, so run it in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}

// Observer feeds executor progress into the collectors above.
type Observer struct{}

func (Observer) IterationDone(_, _, records int) {
	IterationsMaterialized.Inc()
	RecordsWritten.Add(float64(records))
}

func (Observer) ShardDone(result shards.ShardResult) {
	if d := result.Duration(); d > 0 {
		ShardDuration.Observe(d.Seconds())
	}
	switch result.State {
	case shards.Completed:
		ShardsCompleted.Inc()
		ShardBytes.Add(float64(result.Stats.CompressedBytes))
	case shards.Failed:
		kind := shards.KindUnknown
		if result.Err != nil {
			kind = result.Err.Kind
		}
		ShardsFailed.WithLabelValues(string(kind)).Inc()
	}
}
