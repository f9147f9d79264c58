package shards

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Observer is told about progress as shards run. Implementations must be
// safe for concurrent use.
type Observer interface {
	IterationDone(shard, iteration, records int)
	ShardDone(result ShardResult)
}

type nopObserver struct{}

func (nopObserver) IterationDone(int, int, int) {}
func (nopObserver) ShardDone(ShardResult)       {}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) IterationDone(shard, iteration, records int) {
	for _, obs := range o {
		obs.IterationDone(shard, iteration, records)
	}
}

func (o Observers) ShardDone(result ShardResult) {
	for _, obs := range o {
		obs.ShardDone(result)
	}
}

// Sink receives every committed shard file.
type Sink interface {
	Upload(ctx context.Context, path string) error
}

// Executor runs shard tasks on a fixed pool of workers. Each worker opens
// its own corpus and decoder on first use and keeps them until it exits.
type Executor struct {
	Config      Config
	OpenCorpus  func() (Corpus, error)
	LoadDecoder func() (Decoder, error)
	Logger      *zap.Logger
	Observer    Observer
	Sink        Sink
}

func NewExecutor(cfg Config, openCorpus func() (Corpus, error),
	loadDecoder func() (Decoder, error)) *Executor {
	return &Executor{
		Config:      cfg,
		OpenCorpus:  openCorpus,
		LoadDecoder: loadDecoder,
		Logger:      zap.NewNop(),
		Observer:    nopObserver{},
	}
}

func (e *Executor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Executor) observer() Observer {
	if e.Observer == nil {
		return nopObserver{}
	}
	return e.Observer
}

// Run materializes shards [first, end) and waits for all of them. Shard
// failures are reported in the Report; the error is only for a run that
// could not start.
func (e *Executor) Run(ctx context.Context, first, end int) (*Report,
	error) {
	if err := e.Config.Validate(); err != nil {
		return nil, err
	}
	if e.OpenCorpus == nil || e.LoadDecoder == nil {
		return nil, errors.New("executor needs a corpus opener and a " +
			"decoder loader")
	}
	if first < 0 || end < first {
		return nil, fmt.Errorf("invalid shard range [%d, %d)", first, end)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]ShardResult, end-first)
	for idx := range results {
		task, err := Plan(first+idx, e.Config.StepsPerShard,
			e.Config.BatchSize, e.Config.OutputDir, e.Config.Prefix)
		if err != nil {
			return nil, err
		}
		results[idx] = ShardResult{Task: task, State: Queued}
	}

	workers := e.Config.Workers
	if workers > len(results) {
		workers = len(results)
	}
	e.logger().Info("starting shards",
		zap.Int("first", first), zap.Int("end", end),
		zap.Int("workers", workers))

	tasks := make(chan int)
	var eg errgroup.Group
	for w := 0; w < workers; w++ {
		id := w
		eg.Go(func() error {
			e.work(ctx, id, tasks, results)
			return nil
		})
	}

	next := 0
dispatch:
	for ; next < len(results); next++ {
		select {
		case tasks <- next:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(tasks)
	_ = eg.Wait()

	for idx := next; idx < len(results); idx++ {
		res := &results[idx]
		res.State = Failed
		res.Err = newShardError(res.Task.Shard, -1, ctx.Err())
		e.observer().ShardDone(*res)
	}
	return &Report{Results: results}, nil
}

func (e *Executor) work(ctx context.Context, id int, tasks <-chan int,
	results []ShardResult) {
	logger := e.logger().With(zap.Int("worker", id))
	state := &workerState{
		openCorpus:  e.OpenCorpus,
		loadDecoder: e.LoadDecoder,
	}
	defer func() {
		if err := state.Close(); err != nil {
			logger.Warn("closing worker resources", zap.Error(err))
		}
	}()
	for idx := range tasks {
		e.runTask(ctx, logger, state, &results[idx])
		e.observer().ShardDone(results[idx])
	}
}

func (e *Executor) runTask(ctx context.Context, logger *zap.Logger,
	state *workerState, res *ShardResult) {
	task := res.Task
	logger = logger.With(
		zap.Int("shard", task.Shard),
		zap.Int("start_iteration", task.StartIteration),
		zap.Int("end_iteration", task.EndIteration),
		zap.String("path", task.OutputPath))
	res.State = Running
	res.Started = time.Now()
	defer func() { res.Finished = time.Now() }()

	if e.Config.SkipExisting {
		if info, err := os.Stat(task.OutputPath); err == nil &&
			info.Mode().IsRegular() {
			res.State = Completed
			res.Skipped = true
			logger.Info("shard already exists, skipping")
			return
		}
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			res.State = Failed
			res.Err = newShardError(task.Shard, -1, err)
			return
		}
		res.Attempts = attempt + 1
		logger.Debug("shard started", zap.Int("attempt", res.Attempts))
		stats, skipped, serr := e.runShard(ctx, logger, state, task)
		res.SkippedDocuments = skipped
		if serr == nil {
			res.State = Completed
			res.Stats = stats
			res.Err = nil
			logger.Info("shard completed",
				zap.Int("records", stats.Records),
				zap.String("size", humanize.Bytes(
					uint64(stats.CompressedBytes))),
				zap.Duration("elapsed", time.Since(res.Started)))
			return
		}
		res.Err = serr
		if serr.Kind == KindMalformed || serr.Kind == KindCanceled ||
			attempt >= e.Config.MaxRetries {
			res.State = Failed
			logger.Error("shard failed",
				zap.String("kind", string(serr.Kind)),
				zap.Int("iteration", serr.Iteration),
				zap.Int("offset", serr.Offset),
				zap.Int("attempts", res.Attempts),
				zap.Error(serr.Err))
			return
		}
		logger.Warn("retrying shard",
			zap.String("kind", string(serr.Kind)),
			zap.Int("attempt", res.Attempts),
			zap.Error(serr.Err))
	}
}

// runShard writes one shard file. Any failure, panics included, aborts the
// writer so that no partial file is left at the final path.
func (e *Executor) runShard(ctx context.Context, logger *zap.Logger,
	state *workerState, task ShardTask) (stats ShardStats, skipped int,
	serr *ShardError) {
	iteration := -1
	writer := NewShardWriter(task.OutputPath, e.Config.Writer)
	committed := false
	defer func() {
		if r := recover(); r != nil {
			serr = newShardError(task.Shard, iteration, &panicError{value: r})
			if err := state.Close(); err != nil {
				logger.Warn("closing worker resources after panic",
					zap.Error(err))
			}
		}
		if !committed {
			if err := writer.Abort(); err != nil {
				logger.Warn("removing partial shard", zap.Error(err))
			}
		}
	}()

	src, decoder, err := state.get()
	if err != nil {
		return ShardStats{}, 0, newShardError(task.Shard, -1, err)
	}

	shardCtx := ctx
	if e.Config.ShardTimeout > 0 {
		var cancel context.CancelFunc
		shardCtx, cancel = context.WithTimeout(ctx, e.Config.ShardTimeout)
		defer cancel()
	}

	m := &Materializer{
		Corpus:    src,
		Decoder:   decoder,
		BatchSize: e.Config.BatchSize,
	}
	for iteration = task.StartIteration; iteration < task.EndIteration; iteration++ {
		if err := e.contextErr(ctx, shardCtx); err != nil {
			return ShardStats{}, skipped,
				newShardError(task.Shard, iteration, err)
		}
		next, err := m.Materialize(iteration)
		if err != nil {
			return ShardStats{}, skipped,
				newShardError(task.Shard, iteration, err)
		}
		records := 0
		for {
			doc, err := next()
			if err != nil {
				var decodeErr *DecodeError
				if e.Config.DecodePolicy == DecodeSkip &&
					errors.As(err, &decodeErr) {
					skipped++
					logger.Warn("skipping undecodable document",
						zap.Int("iteration", decodeErr.Iteration),
						zap.Int("offset", decodeErr.Offset),
						zap.Error(decodeErr.Err))
					continue
				}
				return ShardStats{}, skipped,
					newShardError(task.Shard, iteration, err)
			}
			if doc == nil {
				break
			}
			rec, err := FormatRecord(*doc)
			if err != nil {
				return ShardStats{}, skipped,
					newShardError(task.Shard, iteration, err)
			}
			if err := writer.Write(rec); err != nil {
				return ShardStats{}, skipped,
					newShardError(task.Shard, iteration, err)
			}
			records++
		}
		e.observer().IterationDone(task.Shard, iteration, records)
	}
	iteration = -1

	stats, err = writer.Commit()
	committed = true
	if err != nil {
		return ShardStats{}, skipped, newShardError(task.Shard, -1, err)
	}
	if e.Sink != nil {
		if err := e.Sink.Upload(ctx, stats.Path); err != nil {
			return stats, skipped, newShardError(task.Shard, -1,
				&WriteError{Path: stats.Path, Op: "upload", Err: err})
		}
	}
	return stats, skipped, nil
}

func (e *Executor) contextErr(parent, shard context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if err := shard.Err(); err != nil {
		return fmt.Errorf("shard exceeded its %s budget: %w",
			e.Config.ShardTimeout, err)
	}
	return nil
}

// workerState is the heavyweight per-worker state, created on the first
// task and reused for the rest.
type workerState struct {
	openCorpus  func() (Corpus, error)
	loadDecoder func() (Decoder, error)
	corpus      Corpus
	decoder     Decoder
}

func (s *workerState) get() (Corpus, Decoder, error) {
	if s.corpus == nil {
		c, err := s.openCorpus()
		if err != nil {
			return nil, nil, &InitError{Resource: "corpus", Err: err}
		}
		s.corpus = c
	}
	if s.decoder == nil {
		d, err := s.loadDecoder()
		if err != nil {
			return nil, nil, &InitError{Resource: "tokenizer", Err: err}
		}
		s.decoder = d
	}
	return s.corpus, s.decoder, nil
}

// Close releases whatever has been opened. The state may be reused.
func (s *workerState) Close() error {
	var err error
	if s.corpus != nil {
		err = s.corpus.Close()
		s.corpus = nil
	}
	if closer, ok := s.decoder.(io.Closer); ok {
		if closeErr := closer.Close(); err == nil {
			err = closeErr
		}
	}
	s.decoder = nil
	return err
}
