package shards

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

const defaultBufSize = 1 << 20

// WriterOptions tunes a ShardWriter. The zero value is usable.
type WriterOptions struct {
	BufSize          int
	CompressionLevel int
}

// ShardStats describes a committed shard file.
type ShardStats struct {
	Path            string
	Records         int
	Bytes           int64
	CompressedBytes int64
}

type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ShardWriter streams records into a gzip JSON-lines file. Nothing appears
// at the final path until Commit succeeds.
type ShardWriter struct {
	path    string
	opts    WriterOptions
	tmp     *os.File
	gz      *gzip.Writer
	buf     *bufio.Writer
	counter *countingWriter
	line    bytes.Buffer
	enc     *json.Encoder
	records int
	done    bool
}

var errWriterDone = errors.New("shard writer already committed or aborted")

func NewShardWriter(finalPath string, opts WriterOptions) *ShardWriter {
	if opts.BufSize <= 0 {
		opts.BufSize = defaultBufSize
	}
	if opts.CompressionLevel == 0 {
		opts.CompressionLevel = gzip.DefaultCompression
	}
	return &ShardWriter{path: finalPath, opts: opts}
}

func (w *ShardWriter) Path() string { return w.path }

func (w *ShardWriter) open() error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &WriteError{Path: dir, Op: "mkdir", Err: err}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.path)+".tmp-*")
	if err != nil {
		return &WriteError{Path: w.path, Op: "create", Err: err}
	}
	gz, err := gzip.NewWriterLevel(tmp, w.opts.CompressionLevel)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return &WriteError{Path: w.path, Op: "create", Err: err}
	}
	w.tmp = tmp
	w.gz = gz
	w.buf = bufio.NewWriterSize(gz, w.opts.BufSize)
	w.counter = &countingWriter{w: w.buf}
	w.enc = json.NewEncoder(&w.line)
	w.enc.SetEscapeHTML(false)
	return nil
}

// Write appends one record, opening the temporary file on first use.
func (w *ShardWriter) Write(rec Record) error {
	if w.done {
		return &WriteError{Path: w.path, Op: "write", Err: errWriterDone}
	}
	if w.tmp == nil {
		if err := w.open(); err != nil {
			return err
		}
	}
	w.line.Reset()
	if err := w.enc.Encode(rec); err != nil {
		return &WriteError{Path: w.path, Op: "write", Err: err}
	}
	if _, err := w.counter.Write(
		rawLineSeparators(w.line.Bytes())); err != nil {
		return &WriteError{Path: w.path, Op: "write", Err: err}
	}
	w.records++
	return nil
}

// Commit finishes the gzip stream and atomically moves the file into place.
// On failure the temporary file is removed and the final path is untouched.
func (w *ShardWriter) Commit() (ShardStats, error) {
	if w.done {
		return ShardStats{}, &WriteError{Path: w.path, Op: "commit",
			Err: errWriterDone}
	}
	if w.tmp == nil {
		if err := w.open(); err != nil {
			w.done = true
			return ShardStats{}, err
		}
	}
	fail := func(op string, err error) (ShardStats, error) {
		_ = w.Abort()
		return ShardStats{}, &WriteError{Path: w.path, Op: op, Err: err}
	}
	if err := w.buf.Flush(); err != nil {
		return fail("flush", err)
	}
	if err := w.gz.Close(); err != nil {
		return fail("flush", err)
	}
	if err := w.tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	info, err := w.tmp.Stat()
	if err != nil {
		return fail("stat", err)
	}
	if err := w.tmp.Close(); err != nil {
		return fail("close", err)
	}
	if err := os.Rename(w.tmp.Name(), w.path); err != nil {
		return fail("rename", err)
	}
	w.done = true
	w.tmp = nil
	syncDir(filepath.Dir(w.path))
	return ShardStats{
		Path:            w.path,
		Records:         w.records,
		Bytes:           w.counter.n,
		CompressedBytes: info.Size(),
	}, nil
}

// Abort discards everything written so far. It is safe to call more than
// once, and after Commit.
func (w *ShardWriter) Abort() error {
	w.done = true
	if w.tmp == nil {
		return nil
	}
	tmp := w.tmp
	w.tmp = nil
	_ = tmp.Close()
	if err := os.Remove(tmp.Name()); err != nil &&
		!errors.Is(err, os.ErrNotExist) {
		return &WriteError{Path: tmp.Name(), Op: "remove", Err: err}
	}
	return nil
}

var (
	escapedSeparator = []byte(`\u202`)
	lineSeparator    = []byte("\u2028")
	paraSeparator    = []byte("\u2029")
)

// rawLineSeparators undoes the \u2028 and \u2029 escapes encoding/json
// always emits, so text is written verbatim. Escapes are consumed in pairs,
// which leaves an escaped backslash followed by "u2028" alone.
func rawLineSeparators(line []byte) []byte {
	if !bytes.Contains(line, escapedSeparator) {
		return line
	}
	out := make([]byte, 0, len(line))
	for i := 0; i < len(line); i++ {
		if line[i] != '\\' || i+1 >= len(line) {
			out = append(out, line[i])
			continue
		}
		if i+5 < len(line) &&
			bytes.HasPrefix(line[i+1:], escapedSeparator[1:]) {
			switch line[i+5] {
			case '8':
				out = append(out, lineSeparator...)
				i += 5
				continue
			case '9':
				out = append(out, paraSeparator...)
				i += 5
				continue
			}
		}
		out = append(out, line[i], line[i+1])
		i++
	}
	return out
}

// syncDir makes a rename durable. Not every platform can fsync a directory,
// so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
