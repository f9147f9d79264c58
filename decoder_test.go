package gpt_jsonl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/gpt_jsonl/internal/testutils"
	"github.com/wbrown/gpt_jsonl/types"
)

func newFixtureDecoder(t testing.TB, cleanUp *bool) *GPTDecoder {
	t.Helper()
	dir := t.TempDir()
	testutils.WriteTokenizer(t, dir, cleanUp)
	decoder, err := NewDecoderWithOptions(dir, t.TempDir(), DecoderOptions{})
	require.NoError(t, err)
	return decoder
}

func TestGPTDecoder_Decode(t *testing.T) {
	decoder := newFixtureDecoder(t, nil)
	assert.Equal(t, testutils.VocabSize, decoder.VocabSize())

	tokens := append(testutils.Bytes("Say"),
		testutils.HelloToken, testutils.WorldToken, testutils.EndOfText)
	text, err := decoder.Decode(tokens)
	require.NoError(t, err)
	assert.Equal(t, "Say hello world<|endoftext|>", text)

	again, err := decoder.Decode(tokens)
	require.NoError(t, err)
	assert.Equal(t, text, again)
}

func TestGPTDecoder_DecodeUnicode(t *testing.T) {
	decoder := newFixtureDecoder(t, nil)
	const hindi = "व्याकरण"
	text, err := decoder.Decode(testutils.Bytes(hindi))
	require.NoError(t, err)
	assert.Equal(t, hindi, text)

	// A three byte character cut after two bytes is one replacement char.
	cut := testutils.Bytes("aव")[:3]
	text, err = decoder.Decode(cut)
	require.NoError(t, err)
	assert.Equal(t, "a�", text)
}

func TestGPTDecoder_DecodeUnknownToken(t *testing.T) {
	decoder := newFixtureDecoder(t, nil)
	_, err := decoder.Decode(types.Tokens{testutils.ByteToken('a'), 50000})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownToken))
	assert.Contains(t, err.Error(), "position 1")
}

func TestGPTDecoder_CleanUpTokenizationSpaces(t *testing.T) {
	tokens := testutils.Bytes("Hi , there . I 'm here")
	withCleanup := newFixtureDecoder(t, nil)
	text, err := withCleanup.Decode(tokens)
	require.NoError(t, err)
	assert.Equal(t, "Hi, there. I'm here", text)

	off := false
	verbatim := newFixtureDecoder(t, &off)
	text, err = verbatim.Decode(tokens)
	require.NoError(t, err)
	assert.Equal(t, "Hi , there . I 'm here", text)
}

func TestGPTDecoder_DecodeBuffer(t *testing.T) {
	decoder := newFixtureDecoder(t, nil)
	bin, err := testutils.Bytes("abc").ToBin(types.DTypeUint16)
	require.NoError(t, err)
	text, err := decoder.DecodeBuffer(bin, types.DTypeUint16)
	require.NoError(t, err)
	assert.Equal(t, "abc", text)
}

func TestToValidUTF8(t *testing.T) {
	tests := []struct {
		Name     string
		Input    []byte
		Expected string
	}{
		{"valid", []byte("héllo"), "héllo"},
		{"truncated three byte", []byte{'x', 0xE0, 0xA4}, "x�"},
		{"lone continuation", []byte{0x80, 0x80, 'y'}, "��y"},
		{"surrogate", []byte{0xED, 0xA0, 0x80}, "���"},
		{"truncated four byte", []byte{0xF0, 0x9F, 0x98}, "�"},
		{"invalid lead", []byte{0xFF, 'z'}, "�z"},
	}
	for _, test := range tests {
		assert.Equal(t, test.Expected, toValidUTF8(test.Input), test.Name)
	}
}

func BenchmarkGPTDecoder_Decode(b *testing.B) {
	decoder := newFixtureDecoder(b, nil)
	doc := testutils.Documents(1, 2049)[0]
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := decoder.Decode(doc); err != nil {
			b.Fatal(err)
		}
	}
}
