package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/wbrown/gpt_jsonl"
	"github.com/wbrown/gpt_jsonl/corpus"
	"github.com/wbrown/gpt_jsonl/pkg/metrics"
	"github.com/wbrown/gpt_jsonl/pkg/s3sink"
	"github.com/wbrown/gpt_jsonl/resources"
	"github.com/wbrown/gpt_jsonl/shards"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

type options struct {
	baseFile       int
	endFile        int
	dataPath       string
	tokenizer      string
	tokenizerCache string
	cleanUp        string
	verbose        bool
	progress       bool
	metricsAddr    string
	upload         string
	onDecodeError  string
	config         shards.Config
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	opts := &options{config: shards.NewConfig()}
	cfg := &opts.config
	fs := flag.NewFlagSet("pile_to_jsonl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&opts.baseFile, "base_file", 0, "first shard index")
	fs.IntVar(&opts.endFile, "end_file", 143,
		"shard index to stop before")
	fs.IntVar(&cfg.Workers, "num_processes", 48, "concurrent shard workers")
	fs.StringVar(&cfg.OutputDir, "output_dir", "path/to/output/folder",
		"directory to write shard files to")
	fs.StringVar(&opts.dataPath, "pythia_data_path",
		"path/to/merged/folder/document",
		"indexed dataset prefix, without .bin/.idx")
	fs.BoolVar(&opts.verbose, "verbose", false, "print debug level logs")
	fs.IntVar(&cfg.StepsPerShard, "steps_per_file", cfg.StepsPerShard,
		"training iterations per shard file")
	fs.IntVar(&cfg.BatchSize, "batch_size", cfg.BatchSize,
		"documents per training iteration")
	fs.StringVar(&cfg.Prefix, "prefix", cfg.Prefix, "shard file name prefix")
	fs.DurationVar(&cfg.ShardTimeout, "shard_timeout", 0,
		"fail a shard that runs longer than this (0 disables)")
	fs.IntVar(&cfg.MaxRetries, "max_retries", 0,
		"times to retry a failed shard")
	fs.StringVar(&opts.onDecodeError, "on_decode_error", string(shards.DecodeFail),
		"what to do with an undecodable document [fail, skip]")
	fs.BoolVar(&cfg.SkipExisting, "skip_existing", false,
		"leave shards whose output file already exists")
	fs.StringVar(&opts.metricsAddr, "metrics_addr", "",
		"serve prometheus metrics on this address, e.g. :9090")
	fs.StringVar(&opts.upload, "upload", "",
		"copy committed shards to s3://bucket/prefix")
	fs.BoolVar(&opts.progress, "progress", false,
		"show a progress bar over iterations")
	fs.StringVar(&opts.tokenizer, "tokenizer", gpt_jsonl.DefaultTokenizer,
		"tokenizer directory, URL or huggingface id")
	fs.StringVar(&opts.tokenizerCache, "tokenizer_cache",
		gpt_jsonl.DefaultCacheRoot(), "where remote tokenizers are cached")
	fs.StringVar(&opts.cleanUp, "clean_up_spaces", "",
		"override clean_up_tokenization_spaces [true, false]")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments %v", fs.Args())
	}

	policy, err := shards.ParseDecodePolicy(opts.onDecodeError)
	if err != nil {
		return nil, err
	}
	cfg.DecodePolicy = policy
	switch {
	case opts.baseFile < 0 || opts.endFile < opts.baseFile:
		return nil, fmt.Errorf("invalid shard range [%d, %d)", opts.baseFile,
			opts.endFile)
	case opts.dataPath == "":
		return nil, errors.New("-pythia_data_path is required")
	case opts.tokenizer == "":
		return nil, errors.New("-tokenizer is required")
	case opts.cleanUp != "" && opts.cleanUp != "true" &&
		opts.cleanUp != "false":
		return nil, fmt.Errorf("-clean_up_spaces must be true or false, "+
			"got %q", opts.cleanUp)
	}
	if opts.upload != "" {
		if _, _, err := s3sink.ParseURI(opts.upload); err != nil {
			return nil, err
		}
	}
	return opts, cfg.Validate()
}

func newZap(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// progressObserver advances the bar per iteration, and on shard completion
// tops it up with iterations the shard never wrote. A shard never moves the
// bar by more than its own steps, retries included.
type progressObserver struct {
	bar   *progressbar.ProgressBar
	steps int
	mu    sync.Mutex
	seen  map[int]int
}

func newProgressObserver(bar *progressbar.ProgressBar,
	steps int) *progressObserver {
	return &progressObserver{bar: bar, steps: steps, seen: make(map[int]int)}
}

func (p *progressObserver) IterationDone(shard, _, _ int) {
	p.mu.Lock()
	counted := p.seen[shard] < p.steps
	if counted {
		p.seen[shard]++
	}
	p.mu.Unlock()
	if counted {
		_ = p.bar.Add(1)
	}
}

func (p *progressObserver) ShardDone(res shards.ShardResult) {
	p.mu.Lock()
	remaining := p.steps - p.seen[res.Task.Shard]
	delete(p.seen, res.Task.Shard)
	p.mu.Unlock()
	if remaining > 0 {
		_ = p.bar.Add(remaining)
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, err)
		}
		return exitUsage
	}
	logger := newZap(opts.verbose)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt,
		syscall.SIGTERM)
	defer stop()

	if opts.metricsAddr != "" {
		metrics.Init()
		go func() {
			if err := metrics.Serve(opts.metricsAddr); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	ds, err := corpus.Open(opts.dataPath)
	if err != nil {
		logger.Error("opening corpus", zap.String("path", opts.dataPath),
			zap.Error(err))
		return exitFailed
	}
	info := ds.Info()
	_ = ds.Close()
	cfg := opts.config
	needed := opts.endFile * cfg.StepsPerShard * cfg.BatchSize
	logger.Info("corpus",
		zap.String("path", opts.dataPath),
		zap.Int("documents", info.Sequences),
		zap.String("tokens", humanize.Comma(info.Tokens)),
		zap.String("dtype", info.DType.String()))
	if needed > info.Sequences {
		logger.Warn("corpus too short for the last shards",
			zap.Int("needed", needed), zap.Int("documents", info.Sequences))
	}

	tokDir, rsrcs, err := resources.ResolveVocabId(opts.tokenizer,
		opts.tokenizerCache, os.Getenv("HF_API_TOKEN"))
	if err != nil {
		logger.Error("resolving tokenizer", zap.String("tokenizer",
			opts.tokenizer), zap.Error(err))
		return exitFailed
	}
	rsrcs.Cleanup()
	decoderOpts := gpt_jsonl.DecoderOptions{}
	if opts.cleanUp != "" {
		cleanUp := opts.cleanUp == "true"
		decoderOpts.CleanUpTokenizationSpaces = &cleanUp
	}

	exec := shards.NewExecutor(cfg,
		func() (shards.Corpus, error) { return corpus.Open(opts.dataPath) },
		func() (shards.Decoder, error) {
			return gpt_jsonl.NewDecoderWithOptions(tokDir,
				opts.tokenizerCache, decoderOpts)
		})
	exec.Logger = logger
	observers := shards.Observers{metrics.Observer{}}
	if opts.progress {
		total := int64(opts.endFile-opts.baseFile) * int64(cfg.StepsPerShard)
		bar := progressbar.NewOptions64(total,
			progressbar.OptionSetDescription("materializing iterations"),
			progressbar.OptionSetWriter(stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("it"),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionFullWidth(),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(stderr)
			}))
		observers = append(observers, newProgressObserver(bar,
			cfg.StepsPerShard))
	}
	exec.Observer = observers
	if opts.upload != "" {
		sink, err := s3sink.New(opts.upload, logger)
		if err != nil {
			logger.Error("configuring upload", zap.Error(err))
			return exitFailed
		}
		exec.Sink = sink
	}

	started := time.Now()
	report, err := exec.Run(ctx, opts.baseFile, opts.endFile)
	if err != nil {
		logger.Error("run failed", zap.Error(err))
		return exitFailed
	}
	for kind, shardErr := range report.Representatives() {
		logger.Error("failure kind",
			zap.String("kind", string(kind)),
			zap.Int("shard", shardErr.Shard),
			zap.Int("iteration", shardErr.Iteration),
			zap.Int("offset", shardErr.Offset),
			zap.Error(shardErr.Err))
	}
	logger.Info(report.Summary(),
		zap.Ints("failed", report.Failed()),
		zap.String("records", humanize.Comma(int64(report.Records()))),
		zap.Duration("elapsed", time.Since(started)))
	if report.Err() != nil {
		return exitFailed
	}
	return exitOK
}
