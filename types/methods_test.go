package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokensBinRoundTrip(t *testing.T) {
	tokens := Tokens{0, 1, 255, 50276}
	for _, dtype := range []DType{DTypeUint16, DTypeInt32, DTypeInt64} {
		bin, err := tokens.ToBin(dtype)
		require.NoError(t, err)
		assert.Len(t, bin, len(tokens)*dtype.Size())
		decoded, err := TokensFromBin(bin, dtype)
		require.NoError(t, err)
		assert.Equal(t, tokens, decoded, dtype.String())
	}
}

func TestTokensFromBinLittleEndian(t *testing.T) {
	decoded, err := TokensFromBin([]byte{0x01, 0x02, 0xff, 0xff}, DTypeUint16)
	require.NoError(t, err)
	assert.Equal(t, Tokens{0x0201, 0xffff}, decoded)

	decoded, err = TokensFromBin([]byte{0xff, 0xff}, DTypeInt16)
	require.NoError(t, err)
	assert.Equal(t, Tokens{-1}, decoded)
}

func TestTokensFromBinErrors(t *testing.T) {
	_, err := TokensFromBin([]byte{1, 2, 3}, DTypeUint16)
	assert.Error(t, err)
	_, err = TokensFromBin([]byte{1, 2}, DType(6))
	assert.Error(t, err)
}

func TestToBinOverflow(t *testing.T) {
	_, err := Tokens{65536}.ToBin(DTypeUint16)
	assert.Error(t, err)
	_, err = Tokens{-1}.ToBin(DTypeUint8)
	assert.Error(t, err)
}
