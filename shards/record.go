package shards

import (
	"fmt"

	"github.com/wbrown/gpt_jsonl/types"
)

const (
	DatasetIdx  = 0
	DatasetName = "pile"
)

// Record is one line of a shard file. Field order is the key order on disk.
type Record struct {
	Iteration   int          `json:"iteration"`
	DatasetIdx  int          `json:"dataset_idx"`
	DatasetName string       `json:"dataset_name"`
	DocIDs      []int        `json:"doc_ids"`
	Text        string       `json:"text"`
	TokenIDs    types.Tokens `json:"token_ids"`
}

// FormatRecord builds the output record for a decoded document.
func FormatRecord(doc Document) (Record, error) {
	if len(doc.TokenIDs) == 0 {
		return Record{}, &MalformedRecordError{
			Iteration: doc.Iteration,
			Offset:    doc.Offset,
			Reason:    "empty token_ids",
		}
	}
	if doc.Iteration < 0 {
		return Record{}, &MalformedRecordError{
			Iteration: doc.Iteration,
			Offset:    doc.Offset,
			Reason:    "negative iteration",
		}
	}
	for idx, token := range doc.TokenIDs {
		if token < 0 {
			return Record{}, &MalformedRecordError{
				Iteration: doc.Iteration,
				Offset:    doc.Offset,
				Reason: fmt.Sprintf("negative token id %d at position %d",
					token, idx),
			}
		}
	}
	return Record{
		Iteration:   doc.Iteration,
		DatasetIdx:  DatasetIdx,
		DatasetName: DatasetName,
		DocIDs:      []int{0},
		Text:        doc.Text,
		TokenIDs:    doc.TokenIDs,
	}, nil
}
