package corpus

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/gpt_jsonl/internal/testutils"
	"github.com/wbrown/gpt_jsonl/types"
)

func writeFixture(t *testing.T, docs []types.Tokens,
	dtype types.DType) string {
	prefix := filepath.Join(t.TempDir(), "document")
	testutils.WriteIndexedDataset(t, prefix, docs, dtype)
	return prefix
}

func TestOpenAndWindow(t *testing.T) {
	docs := testutils.Documents(10, 17)
	for _, dtype := range []types.DType{types.DTypeUint16, types.DTypeInt32} {
		ds, err := Open(writeFixture(t, docs, dtype))
		require.NoError(t, err)
		assert.Equal(t, 10, ds.Len())
		assert.Equal(t, dtype, ds.DType())

		window, err := ds.Window(4, 8)
		require.NoError(t, err)
		require.Len(t, window, 4)
		for i, tokens := range window {
			assert.Equal(t, docs[4+i], tokens)
		}

		info := ds.Info()
		assert.Equal(t, int64(170), info.Tokens)
		assert.Equal(t, 10, info.Sequences)
		require.NoError(t, ds.Close())
	}
}

func TestWindowVariableWidths(t *testing.T) {
	docs := []types.Tokens{{1}, {2, 3, 4}, {5, 6}}
	ds, err := Open(writeFixture(t, docs, types.DTypeUint16))
	require.NoError(t, err)
	defer ds.Close()
	window, err := ds.Window(0, 3)
	require.NoError(t, err)
	assert.Equal(t, docs, window)
}

func TestWindowRangeErrors(t *testing.T) {
	ds, err := Open(writeFixture(t, testutils.Documents(4, 3),
		types.DTypeUint16))
	require.NoError(t, err)
	defer ds.Close()

	for _, r := range [][2]int{{0, 5}, {3, 5}, {-1, 2}, {2, 2}, {3, 1}} {
		_, err := ds.Window(r[0], r[1])
		var rangeErr *RangeError
		require.True(t, errors.As(err, &rangeErr), "%v", r)
		assert.Equal(t, 4, rangeErr.Length)
	}
	window, err := ds.Window(0, 4)
	require.NoError(t, err)
	assert.Len(t, window, 4)
}

func TestOpenBadIndex(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "broken")
	require.NoError(t, os.WriteFile(prefix+".idx",
		[]byte("NOTANINDEX-but-long-enough-for-a-header"), 0644))
	require.NoError(t, os.WriteFile(prefix+".bin", []byte{0, 0}, 0644))
	_, err := Open(prefix)
	var formatErr *FormatError
	assert.True(t, errors.As(err, &formatErr))

	_, err = Open(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
