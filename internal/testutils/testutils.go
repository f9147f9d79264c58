// Package testutils builds small on-disk fixtures for tests: an indexed
// token dataset and a byte-level tokenizer that can decode it.
package testutils

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/wbrown/gpt_jsonl/types"
)

// Fixture vocabulary: id 0 is the end-of-text special, byte b is id b+1,
// and two merged word tokens follow the byte alphabet.
const (
	EndOfText  types.Token = 0
	HelloToken types.Token = 257
	WorldToken types.Token = 258
	VocabSize              = 259
)

var indexMagic = []byte("MMIDIDX\x00\x00")

// ByteToken returns the fixture id of a single raw byte.
func ByteToken(b byte) types.Token {
	return types.Token(b) + 1
}

// Bytes returns the fixture ids spelling out text one byte at a time.
func Bytes(text string) types.Tokens {
	tokens := make(types.Tokens, len(text))
	for idx := 0; idx < len(text); idx++ {
		tokens[idx] = ByteToken(text[idx])
	}
	return tokens
}

func bytesToUnicode() [256]rune {
	var table [256]rune
	assigned := make(map[int]bool)
	for b := int('!'); b <= int('~'); b++ {
		assigned[b] = true
	}
	for b := int('¡'); b <= int('¬'); b++ {
		assigned[b] = true
	}
	for b := int('®'); b <= int('ÿ'); b++ {
		assigned[b] = true
	}
	n := 0
	for b := 0; b < 256; b++ {
		if assigned[b] {
			table[b] = rune(b)
		} else {
			table[b] = rune(256 + n)
			n++
		}
	}
	return table
}

// WriteTokenizer writes a HuggingFace style tokenizer.json for the fixture
// vocabulary into dir. A non-nil cleanUp is written to
// tokenizer_config.json.
func WriteTokenizer(t testing.TB, dir string, cleanUp *bool) {
	t.Helper()
	table := bytesToUnicode()
	vocab := make(map[string]types.Token, VocabSize)
	for b := 0; b < 256; b++ {
		vocab[string(table[b])] = ByteToken(byte(b))
	}
	space := string(table[' '])
	vocab[space+"hello"] = HelloToken
	vocab[space+"world"] = WorldToken
	vocab["<|endoftext|>"] = EndOfText

	tokenizer := map[string]interface{}{
		"version": "1.0",
		"added_tokens": []map[string]interface{}{
			{"id": EndOfText, "content": "<|endoftext|>", "special": true},
		},
		"decoder": map[string]interface{}{"type": "ByteLevel"},
		"model": map[string]interface{}{
			"type":   "BPE",
			"vocab":  vocab,
			"merges": []string{},
		},
	}
	writeJSON(t, filepath.Join(dir, "tokenizer.json"), tokenizer)
	if cleanUp != nil {
		writeJSON(t, filepath.Join(dir, "tokenizer_config.json"),
			map[string]interface{}{"clean_up_tokenization_spaces": *cleanUp})
	}
}

func writeJSON(t testing.TB, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteIndexedDataset writes `prefix.bin` and `prefix.idx` holding docs in
// the mmap indexed dataset layout.
func WriteIndexedDataset(t testing.TB, prefix string, docs []types.Tokens,
	dtype types.DType) {
	t.Helper()
	bin, err := os.Create(prefix + ".bin")
	if err != nil {
		t.Fatalf("create bin: %v", err)
	}
	defer bin.Close()

	sizes := make([]int32, len(docs))
	pointers := make([]int64, len(docs))
	var offset int64
	for idx, doc := range docs {
		data, binErr := doc.ToBin(dtype)
		if binErr != nil {
			t.Fatalf("doc %d: %v", idx, binErr)
		}
		if _, err := bin.Write(data); err != nil {
			t.Fatalf("write bin: %v", err)
		}
		sizes[idx] = int32(len(doc))
		pointers[idx] = offset
		offset += int64(len(data))
	}

	idx, err := os.Create(prefix + ".idx")
	if err != nil {
		t.Fatalf("create idx: %v", err)
	}
	defer idx.Close()
	docIdx := make([]int64, len(docs)+1)
	for i := range docIdx {
		docIdx[i] = int64(i)
	}
	for _, field := range []interface{}{
		indexMagic,
		uint64(1),
		uint8(dtype),
		uint64(len(docs)),
		uint64(len(docIdx)),
		sizes,
		pointers,
		docIdx,
	} {
		if err := binary.Write(idx, binary.LittleEndian, field); err != nil {
			t.Fatalf("write idx: %v", err)
		}
	}
}

// Documents returns n documents of exactly width byte tokens. Document i
// spells "doc <i>;" repeated, so its text identifies it.
func Documents(n, width int) []types.Tokens {
	docs := make([]types.Tokens, n)
	for i := range docs {
		label := fmt.Sprintf("doc %d; ", i)
		doc := make(types.Tokens, width)
		for j := range doc {
			doc[j] = ByteToken(label[j%len(label)])
		}
		docs[i] = doc
	}
	return docs
}

// DocumentText is the decoded text of Documents(n, width)[i].
func DocumentText(i, width int) string {
	label := fmt.Sprintf("doc %d; ", i)
	text := make([]byte, width)
	for j := range text {
		text[j] = label[j%len(label)]
	}
	return string(text)
}
