package shards

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// VerifyOptions controls the checks VerifyShard makes. Zero fields disable
// the corresponding check.
type VerifyOptions struct {
	BatchSize int
	// Decoder, when set, re-decodes each record's token_ids and compares the
	// result with its text.
	Decoder Decoder
}

// VerifyResult summarises a shard file that passed verification.
type VerifyResult struct {
	Path           string
	Records        int
	Iterations     int
	FirstIteration int
	LastIteration  int
}

// VerifyError locates the first problem found in a shard file. Line is 0
// for problems with the file as a whole.
type VerifyError struct {
	Path   string
	Line   int
	Reason string
}

func (e *VerifyError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// VerifyShard reads a committed shard file end to end and checks it against
// the iteration range in its name.
func VerifyShard(path string, opts VerifyOptions) (VerifyResult, error) {
	result := VerifyResult{Path: path, FirstIteration: -1, LastIteration: -1}
	fail := func(line int, format string, args ...interface{}) (VerifyResult,
		error) {
		return result, &VerifyError{Path: path, Line: line,
			Reason: fmt.Sprintf(format, args...)}
	}

	_, start, end, err := ParseFileName(path)
	if err != nil {
		return fail(0, "%v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return result, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return fail(0, "not a gzip file: %v", err)
	}
	defer gz.Close()

	reader := bufio.NewReaderSize(gz, defaultBufSize)
	current, inIteration := -1, 0
	closeIteration := func(line int) error {
		if current >= 0 && opts.BatchSize > 0 && inIteration != opts.BatchSize {
			_, err := fail(line, "iteration %d has %d records, expected %d",
				current, inIteration, opts.BatchSize)
			return err
		}
		return nil
	}
	for line := 1; ; line++ {
		raw, readErr := reader.ReadBytes('\n')
		if len(raw) == 0 && errors.Is(readErr, io.EOF) {
			if err := closeIteration(line); err != nil {
				return result, err
			}
			break
		}
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fail(line, "read: %v", readErr)
		}
		if raw[len(raw)-1] != '\n' {
			return fail(line, "unterminated record")
		}

		var rec Record
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&rec); err != nil {
			return fail(line, "invalid record: %v", err)
		}
		switch {
		case rec.DatasetIdx != DatasetIdx:
			return fail(line, "dataset_idx %d", rec.DatasetIdx)
		case rec.DatasetName != DatasetName:
			return fail(line, "dataset_name %q", rec.DatasetName)
		case len(rec.DocIDs) != 1 || rec.DocIDs[0] != 0:
			return fail(line, "doc_ids %v", rec.DocIDs)
		case len(rec.TokenIDs) == 0:
			return fail(line, "empty token_ids")
		case rec.Iteration < start || rec.Iteration >= end:
			return fail(line, "iteration %d outside [%d, %d)",
				rec.Iteration, start, end)
		case rec.Iteration < current:
			return fail(line, "iteration %d after %d", rec.Iteration, current)
		}
		if rec.Iteration != current {
			if err := closeIteration(line); err != nil {
				return result, err
			}
			if current >= 0 && rec.Iteration != current+1 &&
				opts.BatchSize > 0 {
				return fail(line, "iterations %d to %d are missing",
					current+1, rec.Iteration-1)
			}
			if result.FirstIteration < 0 {
				result.FirstIteration = rec.Iteration
			}
			current, inIteration = rec.Iteration, 0
			result.Iterations++
		}
		if opts.Decoder != nil {
			text, err := opts.Decoder.Decode(rec.TokenIDs)
			if err != nil {
				return fail(line, "re-decode: %v", err)
			}
			if text != rec.Text {
				return fail(line, "text does not match its token_ids")
			}
		}
		inIteration++
		result.Records++
		result.LastIteration = current
	}

	if opts.BatchSize > 0 {
		if result.FirstIteration != start ||
			result.Iterations != end-start {
			return fail(0, "covers %d of %d iterations", result.Iterations,
				end-start)
		}
	}
	return result, nil
}
