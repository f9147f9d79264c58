package shards

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/gpt_jsonl/corpus"
	"github.com/wbrown/gpt_jsonl/internal/testutils"
	"github.com/wbrown/gpt_jsonl/types"
)

func drain(t *testing.T, next DocumentIterator) []*Document {
	docs := make([]*Document, 0)
	for {
		doc, err := next()
		require.NoError(t, err)
		if doc == nil {
			return docs
		}
		docs = append(docs, doc)
	}
}

func TestMaterialize(t *testing.T) {
	docs := testutils.Documents(12, 9)
	m := &Materializer{
		Corpus:    &memCorpus{docs: docs},
		Decoder:   byteDecoder{},
		BatchSize: 4,
	}
	next, err := m.Materialize(2)
	require.NoError(t, err)
	got := drain(t, next)
	require.Len(t, got, 4)
	for offset, doc := range got {
		assert.Equal(t, 2, doc.Iteration)
		assert.Equal(t, offset, doc.Offset)
		assert.Equal(t, docs[8+offset], doc.TokenIDs)
		assert.Equal(t, testutils.DocumentText(8+offset, 9), doc.Text)
	}

	// Exhausted iterators stay exhausted.
	doc, err := next()
	assert.NoError(t, err)
	assert.Nil(t, doc)
}

func TestMaterializeOutOfRange(t *testing.T) {
	m := &Materializer{
		Corpus:    &memCorpus{docs: testutils.Documents(10, 3)},
		Decoder:   byteDecoder{},
		BatchSize: 4,
	}
	_, err := m.Materialize(2)
	var rangeErr *corpus.RangeError
	require.True(t, errors.As(err, &rangeErr))
	assert.Equal(t, 8, rangeErr.Start)
	assert.Equal(t, 12, rangeErr.End)
	assert.Equal(t, KindCorpusRange, Classify(err))
}

func TestMaterializeDecodeError(t *testing.T) {
	docs := testutils.Documents(4, 3)
	docs[1] = types.Tokens{testutils.ByteToken('x'), 9999}
	m := &Materializer{
		Corpus:    &memCorpus{docs: docs},
		Decoder:   byteDecoder{},
		BatchSize: 4,
	}
	next, err := m.Materialize(0)
	require.NoError(t, err)

	first, err := next()
	require.NoError(t, err)
	assert.Equal(t, 0, first.Offset)

	_, err = next()
	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, 0, decodeErr.Iteration)
	assert.Equal(t, 1, decodeErr.Offset)

	rest := drain(t, next)
	require.Len(t, rest, 2)
	assert.Equal(t, 2, rest[0].Offset)
}
