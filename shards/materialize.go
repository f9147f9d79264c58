package shards

import (
	"fmt"

	"github.com/wbrown/gpt_jsonl/types"
)

// Corpus is random access to tokenized documents.
type Corpus interface {
	Len() int
	Window(start, end int) ([]types.Tokens, error)
	Close() error
}

// Decoder turns token ids back into text.
type Decoder interface {
	Decode(tokens types.Tokens) (string, error)
}

// Document is one decoded document of an iteration. Offset is its position
// within the iteration's window.
type Document struct {
	Iteration int
	Offset    int
	TokenIDs  types.Tokens
	Text      string
}

// DocumentIterator yields the documents of one iteration in order, and
// nil, nil once they are exhausted. A *DecodeError does not end the
// iteration; the next call moves on to the following document.
type DocumentIterator func() (*Document, error)

// Materializer reconstructs the documents of a training iteration.
type Materializer struct {
	Corpus    Corpus
	Decoder   Decoder
	BatchSize int
}

// Materialize reads the window for `iteration` and returns an iterator that
// decodes it lazily.
func (m *Materializer) Materialize(iteration int) (DocumentIterator, error) {
	start := iteration * m.BatchSize
	window, err := m.Corpus.Window(start, start+m.BatchSize)
	if err != nil {
		return nil, err
	}
	if len(window) != m.BatchSize {
		return nil, fmt.Errorf("corpus returned %d documents for iteration "+
			"%d, expected %d", len(window), iteration, m.BatchSize)
	}
	offset := 0
	return func() (*Document, error) {
		if offset >= len(window) {
			return nil, nil
		}
		tokens := window[offset]
		docOffset := offset
		offset++
		text, decodeErr := m.Decoder.Decode(tokens)
		if decodeErr != nil {
			return nil, &DecodeError{
				Iteration: iteration,
				Offset:    docOffset,
				Err:       decodeErr,
			}
		}
		return &Document{
			Iteration: iteration,
			Offset:    docOffset,
			TokenIDs:  tokens,
			Text:      text,
		}, nil
	}, nil
}
