package resources

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenizerJSON = `{"model":{"type":"BPE","vocab":{"a":0}},"added_tokens":[]}`

func serveTokenizer(t *testing.T, gets *int32) *httptest.Server {
	files := map[string]string{
		"/EleutherAI/pythia-14m/resolve/main/tokenizer.json":        tokenizerJSON,
		"/EleutherAI/pythia-14m/resolve/main/tokenizer_config.json": `{}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			body, ok := files[r.URL.Path]
			if !ok {
				http.NotFound(w, r)
				return
			}
			if r.Method == http.MethodGet {
				atomic.AddInt32(gets, 1)
			}
			_, _ = w.Write([]byte(body))
		}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveVocabIdHuggingFace(t *testing.T) {
	var gets int32
	srv := serveTokenizer(t, &gets)
	oldBase := HuggingFaceBase
	HuggingFaceBase = srv.URL
	t.Cleanup(func() { HuggingFaceBase = oldBase })

	cache := t.TempDir()
	dir, rsrcs, err := ResolveVocabId("EleutherAI/pythia-14m", cache, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cache, "EleutherAI--pythia-14m"), dir)
	assert.Equal(t, tokenizerJSON, string((*rsrcs)["tokenizer.json"].Data))
	_, hasVocab := (*rsrcs)["vocab.json"]
	assert.False(t, hasVocab)
	rsrcs.Cleanup()
	assert.Equal(t, int32(2), atomic.LoadInt32(&gets))

	// A second resolution is served from the cache.
	_, rsrcs, err = ResolveVocabId("EleutherAI/pythia-14m", cache, "")
	require.NoError(t, err)
	rsrcs.Cleanup()
	assert.Equal(t, int32(2), atomic.LoadInt32(&gets))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".tmp-")
	}
}

func TestResolveResourcesLocalDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vocab.json"),
		[]byte(`{"a":0}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "added_tokens.json"),
		nil, 0644))

	gotDir, rsrcs, err := ResolveVocabId(dir, t.TempDir(), "")
	require.NoError(t, err)
	defer rsrcs.Cleanup()
	assert.Equal(t, dir, gotDir)
	assert.Equal(t, `{"a":0}`, string((*rsrcs)["vocab.json"].Data))
	assert.Empty(t, (*rsrcs)["added_tokens.json"].Data)
}

func TestResolveResourcesMissingVocab(t *testing.T) {
	_, _, err := ResolveVocabId(t.TempDir(), t.TempDir(), "")
	assert.Error(t, err)
}

func TestCacheDir(t *testing.T) {
	assert.Equal(t, filepath.Join("root", "example.com--tok"),
		CacheDir("https://example.com/tok/", "root"))
}
