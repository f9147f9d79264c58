package gpt_jsonl

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/wbrown/gpt_jsonl/resources"
	"github.com/wbrown/gpt_jsonl/types"
)

const BPE_LRU_SZ = 65536

// DefaultTokenizer is the vocabulary the Pile corpus was tokenized with.
const DefaultTokenizer = "EleutherAI/pythia-14m"

var ErrUnknownToken = errors.New("token id not in vocabulary")

// GPTDecoder turns token ids back into text the way a HuggingFace byte-level
// BPE tokenizer decodes them with special tokens kept. It is safe for
// concurrent use.
type GPTDecoder struct {
	Decoder    map[types.Token]string
	Specials   map[string]types.Token
	Cache      *lru.ARCCache
	runeToByte map[rune]byte
	cleanUp    bool
}

// DecoderOptions overrides settings otherwise read from the tokenizer files.
type DecoderOptions struct {
	// CleanUpTokenizationSpaces forces the post-decode space cleanup on or
	// off. When nil, `tokenizer_config.json` decides, defaulting to on.
	CleanUpTokenizationSpaces *bool
	CacheSize                 int
}

type hfAddedToken struct {
	ID      types.Token `json:"id"`
	Content string      `json:"content"`
	Special bool        `json:"special"`
}

type hfTokenizer struct {
	AddedTokens []hfAddedToken `json:"added_tokens"`
	Model       struct {
		Type  string          `json:"type"`
		Vocab json.RawMessage `json:"vocab"`
	} `json:"model"`
	Decoder *struct {
		Type string `json:"type"`
	} `json:"decoder"`
}

type hfTokenizerConfig struct {
	CleanUpTokenizationSpaces *bool `json:"clean_up_tokenization_spaces"`
	AddedTokensDecoder        map[string]struct {
		Content string `json:"content"`
	} `json:"added_tokens_decoder"`
}

// DefaultCacheRoot is where remote tokenizer resources are cached.
func DefaultCacheRoot() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "gpt_jsonl")
	}
	return filepath.Join(os.TempDir(), "gpt_jsonl")
}

// NewDecoder
// Returns a GPTDecoder for the given vocabulary id: a local directory, a
// URL, or a HuggingFace model id.
func NewDecoder(vocabId string) (*GPTDecoder, error) {
	return NewDecoderWithOptions(vocabId, DefaultCacheRoot(), DecoderOptions{})
}

// NewDecoderWithOptions resolves `vocabId` below `cacheRoot` and builds a
// decoder from the resolved files.
func NewDecoderWithOptions(vocabId string, cacheRoot string,
	opts DecoderOptions) (*GPTDecoder, error) {
	_, rsrcs, err := resources.ResolveVocabId(vocabId, cacheRoot,
		os.Getenv("HF_API_TOKEN"))
	if err != nil {
		return nil, err
	}
	defer rsrcs.Cleanup()
	return NewDecoderFromResources(*rsrcs, opts)
}

// NewDecoderFromResources builds a decoder from already resolved tokenizer
// files. Everything needed is copied out, so the caller may release them.
func NewDecoderFromResources(rsrcs resources.Resources,
	opts DecoderOptions) (*GPTDecoder, error) {
	decoder := make(map[types.Token]string)
	specials := make(map[string]types.Token)
	byteLevel := true

	if tokJson, ok := rsrcs["tokenizer.json"]; ok && len(tokJson.Data) > 0 {
		var tok hfTokenizer
		if err := json.Unmarshal(tokJson.Data, &tok); err != nil {
			return nil, fmt.Errorf("error unmarshalling `tokenizer.json`: %w",
				err)
		}
		if tok.Model.Type != "" && tok.Model.Type != "BPE" {
			return nil, fmt.Errorf("unsupported tokenizer model type %q",
				tok.Model.Type)
		}
		if tok.Decoder != nil && tok.Decoder.Type != "ByteLevel" {
			byteLevel = false
		}
		vocab := make(map[string]types.Token)
		if err := json.Unmarshal(tok.Model.Vocab, &vocab); err != nil {
			return nil, fmt.Errorf("error unmarshalling vocab of "+
				"`tokenizer.json`: %w", err)
		}
		for text, token := range vocab {
			decoder[token] = text
		}
		for _, added := range tok.AddedTokens {
			decoder[added.ID] = added.Content
			if added.Special {
				specials[added.Content] = added.ID
			}
		}
	} else if vocabJson, ok := rsrcs["vocab.json"]; ok {
		vocab := make(map[string]types.Token)
		if err := json.Unmarshal(vocabJson.Data, &vocab); err != nil {
			return nil, fmt.Errorf("error unmarshalling `vocab.json`: %w", err)
		}
		for text, token := range vocab {
			decoder[token] = text
		}
	} else {
		return nil, errors.New("no tokenizer.json or vocab.json resource")
	}

	if addedJson, ok := rsrcs["added_tokens.json"]; ok &&
		len(addedJson.Data) > 0 {
		added := make(map[string]types.Token)
		if err := json.Unmarshal(addedJson.Data, &added); err != nil {
			return nil, fmt.Errorf("error unmarshalling `added_tokens.json`: "+
				"%w", err)
		}
		for text, token := range added {
			decoder[token] = text
		}
	}

	cleanUp := true
	if cfgJson, ok := rsrcs["tokenizer_config.json"]; ok &&
		len(cfgJson.Data) > 0 {
		var cfg hfTokenizerConfig
		if err := json.Unmarshal(cfgJson.Data, &cfg); err != nil {
			return nil, fmt.Errorf("error unmarshalling "+
				"`tokenizer_config.json`: %w", err)
		}
		if cfg.CleanUpTokenizationSpaces != nil {
			cleanUp = *cfg.CleanUpTokenizationSpaces
		}
		for id, added := range cfg.AddedTokensDecoder {
			token, err := strconv.ParseInt(id, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad added token id %q in "+
					"`tokenizer_config.json`", id)
			}
			decoder[types.Token(token)] = added.Content
		}
	}
	if opts.CleanUpTokenizationSpaces != nil {
		cleanUp = *opts.CleanUpTokenizationSpaces
	}
	if !byteLevel {
		return nil, errors.New("only ByteLevel decoders are supported")
	}

	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = BPE_LRU_SZ
	}
	cache, cacheErr := lru.NewARC(cacheSize)
	if cacheErr != nil {
		return nil, cacheErr
	}

	return &GPTDecoder{
		Decoder:    decoder,
		Specials:   specials,
		Cache:      cache,
		runeToByte: unicodeToBytes(),
		cleanUp:    cleanUp,
	}, nil
}

// unicodeToBytes builds the reverse of the GPT-2 bytes to unicode table:
// printable latin-1 bytes map to themselves, the rest are shifted past 255.
func unicodeToBytes() map[rune]byte {
	bytesUnicodeMap := make(map[byte]rune)
	unicodeBytes := make(map[rune]byte)
	for b := uint8('!'); b < uint8('~')+1; b++ {
		bytesUnicodeMap[b] = rune(b)
		unicodeBytes[rune(b)] = b
	}
	for b := uint8('¡'); b < uint8('¬')+1; b++ {
		bytesUnicodeMap[b] = rune(b)
		unicodeBytes[rune(b)] = b
	}
	for b := uint16('®'); b < uint16('ÿ')+1; b++ {
		bytesUnicodeMap[byte(b)] = rune(b)
		unicodeBytes[rune(b)] = byte(b)
	}
	uct := 0
	for b := 0; b < 256; b++ {
		if _, ok := bytesUnicodeMap[uint8(b)]; !ok {
			bytesUnicodeMap[uint8(b)] = rune(256 + uct)
			unicodeBytes[rune(256+uct)] = uint8(b)
			uct += 1
		}
	}
	return unicodeBytes
}

// TokenBytes returns the raw bytes a single token expands to.
func (decoder *GPTDecoder) TokenBytes(token types.Token) ([]byte, error) {
	if cached, ok := decoder.Cache.Get(token); ok {
		return cached.([]byte), nil
	}
	text, ok := decoder.Decoder[token]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownToken, token)
	}
	bs := make([]byte, 0, len(text))
	for _, r := range text {
		b, mapped := decoder.runeToByte[r]
		if !mapped {
			// Tokens outside the byte alphabet (added tokens with
			// arbitrary unicode) are emitted as written.
			bs = append(bs[:0], text...)
			break
		}
		bs = append(bs, b)
	}
	decoder.Cache.Add(token, bs)
	return bs, nil
}

// Decode Tokens back into a string. Byte sequences that are not valid UTF-8,
// such as a multi-byte character cut at a context boundary, decode to
// U+FFFD. An id that is not in the vocabulary is an error.
func (decoder *GPTDecoder) Decode(encoded types.Tokens) (string, error) {
	bs := make([]byte, 0, len(encoded)*4)
	for idx, token := range encoded {
		tokenBytes, err := decoder.TokenBytes(token)
		if err != nil {
			return "", fmt.Errorf("position %d: %w", idx, err)
		}
		bs = append(bs, tokenBytes...)
	}
	text := toValidUTF8(bs)
	if decoder.cleanUp {
		text = cleanUpTokenization(text)
	}
	return text, nil
}

// DecodeBuffer
// Decode Tokens from a byte array of the given dtype into a string.
func (decoder *GPTDecoder) DecodeBuffer(encoded []byte,
	dtype types.DType) (string, error) {
	tokens, err := types.TokensFromBin(encoded, dtype)
	if err != nil {
		return "", err
	}
	return decoder.Decode(tokens)
}

// VocabSize returns the number of decodable ids, added tokens included.
func (decoder *GPTDecoder) VocabSize() int {
	return len(decoder.Decoder)
}

var cleanUpPairs = []string{
	" .", ".",
	" ?", "?",
	" !", "!",
	" ,", ",",
	" ' ", "'",
	" n't", "n't",
	" 'm", "'m",
	" 's", "'s",
	" 've", "'ve",
	" 're", "'re",
}

// cleanUpTokenization applies the replacements in order, each over the
// output of the previous one.
func cleanUpTokenization(text string) string {
	for idx := 0; idx < len(cleanUpPairs); idx += 2 {
		text = strings.ReplaceAll(text, cleanUpPairs[idx], cleanUpPairs[idx+1])
	}
	return text
}
