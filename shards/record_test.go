package shards

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/gpt_jsonl/types"
)

func TestFormatRecord(t *testing.T) {
	rec, err := FormatRecord(Document{
		Iteration: 3,
		Offset:    1,
		TokenIDs:  types.Tokens{105, 106},
		Text:      "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.DatasetIdx)
	assert.Equal(t, "pile", rec.DatasetName)
	assert.Equal(t, []int{0}, rec.DocIDs)

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"iteration":3,"dataset_idx":0,"dataset_name":"pile",`+
		`"doc_ids":[0],"text":"hi","token_ids":[105,106]}`, string(data))
}

func TestFormatRecordEmptyText(t *testing.T) {
	rec, err := FormatRecord(Document{TokenIDs: types.Tokens{0}})
	require.NoError(t, err)
	assert.Equal(t, "", rec.Text)
}

func TestFormatRecordMalformed(t *testing.T) {
	for _, doc := range []Document{
		{Iteration: 4, Offset: 2},
		{Iteration: 4, Offset: 2, TokenIDs: types.Tokens{1, -5}},
		{Iteration: -1, Offset: 2, TokenIDs: types.Tokens{1}},
	} {
		_, err := FormatRecord(doc)
		var malformed *MalformedRecordError
		require.True(t, errors.As(err, &malformed), "%+v", doc)
		assert.Equal(t, 2, malformed.Offset)
		assert.Equal(t, KindMalformed, Classify(err))
	}
}
