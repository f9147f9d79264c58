package shards

import (
	"context"
	"errors"
	"fmt"

	"github.com/wbrown/gpt_jsonl/corpus"
)

// ErrorKind classifies why a shard failed.
type ErrorKind string

const (
	KindCorpusRange ErrorKind = "corpus_range"
	KindCorpusRead  ErrorKind = "corpus_read"
	KindDecode      ErrorKind = "decode"
	KindMalformed   ErrorKind = "malformed"
	KindWrite       ErrorKind = "write"
	KindInit        ErrorKind = "init"
	KindTimeout     ErrorKind = "timeout"
	KindPanic       ErrorKind = "panic"
	KindCanceled    ErrorKind = "canceled"
	KindUnknown     ErrorKind = "unknown"
)

// DecodeError is a document whose token ids the tokenizer could not decode.
type DecodeError struct {
	Iteration int
	Offset    int
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode iteration %d offset %d: %v", e.Iteration,
		e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// MalformedRecordError is an assembled record that breaks the output
// invariants. It always indicates a bug upstream of the formatter.
type MalformedRecordError struct {
	Iteration int
	Offset    int
	Reason    string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at iteration %d offset %d: %s",
		e.Iteration, e.Offset, e.Reason)
}

// WriteError is an I/O failure while producing a shard file.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// InitError is a failure to set up a worker's corpus or tokenizer.
type InitError struct {
	Resource string
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialize %s: %v", e.Resource, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

type panicError struct {
	value interface{}
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// ShardError is the terminal failure of one shard. Iteration and Offset are
// -1 when the failure is not tied to a particular iteration or document.
type ShardError struct {
	Shard     int
	Iteration int
	Offset    int
	Kind      ErrorKind
	Err       error
}

func (e *ShardError) Error() string {
	msg := fmt.Sprintf("shard %d failed (%s)", e.Shard, e.Kind)
	if e.Iteration >= 0 {
		msg += fmt.Sprintf(" at iteration %d", e.Iteration)
	}
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" offset %d", e.Offset)
	}
	return msg + ": " + e.Err.Error()
}

func (e *ShardError) Unwrap() error { return e.Err }

// Classify maps an error onto the kind it is reported under.
func Classify(err error) ErrorKind {
	var (
		rangeErr     *corpus.RangeError
		formatErr    *corpus.FormatError
		decodeErr    *DecodeError
		malformedErr *MalformedRecordError
		writeErr     *WriteError
		initErr      *InitError
		panicErr     *panicError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &panicErr):
		return KindPanic
	case errors.As(err, &initErr):
		return KindInit
	case errors.As(err, &rangeErr):
		return KindCorpusRange
	case errors.As(err, &formatErr):
		return KindCorpusRead
	case errors.As(err, &decodeErr):
		return KindDecode
	case errors.As(err, &malformedErr):
		return KindMalformed
	case errors.As(err, &writeErr):
		return KindWrite
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindUnknown
	}
}

func newShardError(shard, iteration int, err error) *ShardError {
	se := &ShardError{
		Shard:     shard,
		Iteration: iteration,
		Offset:    -1,
		Kind:      Classify(err),
		Err:       err,
	}
	var decodeErr *DecodeError
	var malformedErr *MalformedRecordError
	if errors.As(err, &decodeErr) {
		se.Iteration, se.Offset = decodeErr.Iteration, decodeErr.Offset
	} else if errors.As(err, &malformedErr) {
		se.Iteration, se.Offset = malformedErr.Iteration, malformedErr.Offset
	}
	return se
}
