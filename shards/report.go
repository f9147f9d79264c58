package shards

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// State is where a shard is in its lifecycle.
type State string

const (
	Queued    State = "queued"
	Running   State = "running"
	Completed State = "completed"
	Failed    State = "failed"
)

// ShardResult is the observed outcome of one shard task.
type ShardResult struct {
	Task     ShardTask
	State    State
	Attempts int
	// Skipped is set when the output already existed and the shard was not
	// recomputed.
	Skipped          bool
	SkippedDocuments int
	Stats            ShardStats
	Err              *ShardError
	Started          time.Time
	Finished         time.Time
}

func (r ShardResult) Duration() time.Duration {
	if r.Started.IsZero() || r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Report collects the results of a run, one per shard in ascending order.
type Report struct {
	Results []ShardResult
}

func (r *Report) Completed() []int {
	return r.shardsIn(Completed)
}

func (r *Report) Failed() []int {
	return r.shardsIn(Failed)
}

func (r *Report) shardsIn(state State) []int {
	shards := make([]int, 0)
	for _, res := range r.Results {
		if res.State == state {
			shards = append(shards, res.Task.Shard)
		}
	}
	return shards
}

// Representatives returns the first failure, by shard order, of each kind.
func (r *Report) Representatives() map[ErrorKind]*ShardError {
	reps := make(map[ErrorKind]*ShardError)
	for _, res := range r.Results {
		if res.State != Failed || res.Err == nil {
			continue
		}
		if _, ok := reps[res.Err.Kind]; !ok {
			reps[res.Err.Kind] = res.Err
		}
	}
	return reps
}

// Records is the number of records written by completed shards this run.
func (r *Report) Records() int {
	total := 0
	for _, res := range r.Results {
		total += res.Stats.Records
	}
	return total
}

// Err is nil when every shard completed.
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	return &FailedShardsError{
		Total:           len(r.Results),
		Shards:          failed,
		Representatives: r.Representatives(),
	}
}

func (r *Report) Summary() string {
	completed, failed := r.Completed(), r.Failed()
	skipped := 0
	for _, res := range r.Results {
		if res.Skipped {
			skipped++
		}
	}
	summary := fmt.Sprintf("%d shards: %d completed (%d skipped), %d failed",
		len(r.Results), len(completed), skipped, len(failed))
	if len(failed) > 0 {
		summary += fmt.Sprintf(" %v", failed)
	}
	return summary
}

// FailedShardsError reports every failed shard of a run.
type FailedShardsError struct {
	Total           int
	Shards          []int
	Representatives map[ErrorKind]*ShardError
}

func (e *FailedShardsError) Error() string {
	kinds := make([]string, 0, len(e.Representatives))
	for kind := range e.Representatives {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d of %d shards failed %v", len(e.Shards), e.Total,
		e.Shards)
	for _, kind := range kinds {
		fmt.Fprintf(&sb, "; %s", e.Representatives[ErrorKind(kind)])
	}
	return sb.String()
}
