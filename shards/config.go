package shards

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// DecodePolicy says what happens to a document that fails to decode.
type DecodePolicy string

const (
	// DecodeFail fails the whole shard.
	DecodeFail DecodePolicy = "fail"
	// DecodeSkip logs and drops the document, keeping the rest of the shard.
	DecodeSkip DecodePolicy = "skip"
)

func ParseDecodePolicy(s string) (DecodePolicy, error) {
	switch DecodePolicy(strings.ToLower(s)) {
	case DecodeFail:
		return DecodeFail, nil
	case DecodeSkip:
		return DecodeSkip, nil
	}
	return "", fmt.Errorf("unknown decode error policy %q, want %q or %q",
		s, DecodeFail, DecodeSkip)
}

// Config holds the knobs of a materialization run.
type Config struct {
	StepsPerShard int
	BatchSize     int
	OutputDir     string
	Prefix        string
	Workers       int
	// ShardTimeout bounds a shard's wall-clock time. It is checked between
	// iterations, so a shard can overrun it by up to one iteration.
	ShardTimeout  time.Duration
	MaxRetries    int
	DecodePolicy  DecodePolicy
	SkipExisting  bool
	Writer        WriterOptions
}

// NewConfig returns the settings the Pythia training run used: 1000
// iterations per file of 1024 documents each.
func NewConfig() Config {
	return Config{
		StepsPerShard: 1000,
		BatchSize:     1024,
		OutputDir:     ".",
		Prefix:        "pythia",
		Workers:       runtime.NumCPU(),
		DecodePolicy:  DecodeFail,
	}
}

func (c Config) Validate() error {
	switch {
	case c.StepsPerShard <= 0:
		return fmt.Errorf("steps per shard must be positive, got %d",
			c.StepsPerShard)
	case c.BatchSize <= 0:
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.Workers <= 0:
		return fmt.Errorf("worker count must be positive, got %d", c.Workers)
	case c.OutputDir == "":
		return errors.New("output directory is required")
	case c.Prefix == "" || strings.ContainsAny(c.Prefix, `/\`):
		return fmt.Errorf("invalid shard file prefix %q", c.Prefix)
	case c.MaxRetries < 0:
		return fmt.Errorf("max retries cannot be negative, got %d",
			c.MaxRetries)
	case c.ShardTimeout < 0:
		return fmt.Errorf("shard timeout cannot be negative, got %s",
			c.ShardTimeout)
	}
	if _, err := ParseDecodePolicy(string(c.DecodePolicy)); err != nil {
		return err
	}
	return nil
}
