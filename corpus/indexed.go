// Package corpus reads mmap indexed token datasets: a `.bin` file of packed
// token ids and an `.idx` file holding per-sequence sizes and byte offsets.
package corpus

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/wbrown/gpt_jsonl/types"
)

var indexMagic = []byte("MMIDIDX\x00\x00")

const (
	indexVersion = 1
	headerSize   = 9 + 8 + 1 + 8 + 8
)

// Info summarises a dataset's index header.
type Info struct {
	DType     types.DType
	Sequences int
	Documents int
	Tokens    int64
}

// IndexedDataset is a read-only view over a mapped `.idx`/`.bin` pair. It
// is not safe for concurrent use by multiple goroutines; open one per
// worker.
type IndexedDataset struct {
	prefix   string
	dtype    types.DType
	idxFile  *os.File
	binFile  *os.File
	idxMap   mmap.MMap
	binMap   mmap.MMap
	sizes    []byte
	pointers []byte
	count    int
	docCount int
}

func mapFile(path string) (*os.File, mmap.MMap, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	if stat.Size() == 0 {
		return file, nil, nil
	}
	mapped, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("error trying to mmap %s: %w", path, err)
	}
	return file, mapped, nil
}

// Open maps `prefix.idx` and `prefix.bin`.
func Open(prefix string) (*IndexedDataset, error) {
	ds := &IndexedDataset{prefix: prefix}
	var err error
	idxPath := prefix + ".idx"
	if ds.idxFile, ds.idxMap, err = mapFile(idxPath); err != nil {
		return nil, err
	}
	if err = ds.parseIndex(idxPath); err != nil {
		ds.Close()
		return nil, err
	}
	if ds.binFile, ds.binMap, err = mapFile(prefix + ".bin"); err != nil {
		ds.Close()
		return nil, err
	}
	return ds, nil
}

func (ds *IndexedDataset) parseIndex(path string) error {
	idx := []byte(ds.idxMap)
	if len(idx) < headerSize {
		return &FormatError{path, "index shorter than its header"}
	}
	if !bytes.Equal(idx[:len(indexMagic)], indexMagic) {
		return &FormatError{path, "bad magic, not an mmap indexed dataset"}
	}
	off := len(indexMagic)
	if version := binary.LittleEndian.Uint64(idx[off:]); version != indexVersion {
		return &FormatError{path, fmt.Sprintf("unsupported version %d",
			version)}
	}
	off += 8
	ds.dtype = types.DType(idx[off])
	if ds.dtype.Size() == 0 {
		return &FormatError{path, fmt.Sprintf("unsupported dtype code %d",
			idx[off])}
	}
	off += 1
	count := binary.LittleEndian.Uint64(idx[off:])
	off += 8
	docCount := binary.LittleEndian.Uint64(idx[off:])
	off += 8

	need := uint64(off) + count*4 + count*8 + docCount*8
	if count > uint64(len(idx)) || docCount > uint64(len(idx)) ||
		need > uint64(len(idx)) {
		return &FormatError{path, fmt.Sprintf(
			"index truncated: need %d bytes, have %d", need, len(idx))}
	}
	ds.count = int(count)
	ds.docCount = int(docCount)
	ds.sizes = idx[off : off+ds.count*4]
	off += ds.count * 4
	ds.pointers = idx[off : off+ds.count*8]
	return nil
}

// Len returns the number of sequences in the dataset.
func (ds *IndexedDataset) Len() int {
	return ds.count
}

// DType returns the element type of the token stream.
func (ds *IndexedDataset) DType() types.DType {
	return ds.dtype
}

// Info returns header level statistics about the dataset.
func (ds *IndexedDataset) Info() Info {
	var total int64
	for i := 0; i < ds.count; i++ {
		total += int64(ds.size(i))
	}
	return Info{
		DType:     ds.dtype,
		Sequences: ds.count,
		Documents: ds.docCount,
		Tokens:    total,
	}
}

func (ds *IndexedDataset) size(i int) int32 {
	return int32(binary.LittleEndian.Uint32(ds.sizes[i*4:]))
}

func (ds *IndexedDataset) pointer(i int) int64 {
	return int64(binary.LittleEndian.Uint64(ds.pointers[i*8:]))
}

// Get returns sequence i.
func (ds *IndexedDataset) Get(i int) (types.Tokens, error) {
	if i < 0 || i >= ds.count {
		return nil, &RangeError{i, i + 1, ds.count}
	}
	size := ds.size(i)
	ptr := ds.pointer(i)
	width := int64(ds.dtype.Size())
	end := ptr + int64(size)*width
	if size < 0 || ptr < 0 || end > int64(len(ds.binMap)) {
		return nil, &FormatError{ds.prefix + ".bin", fmt.Sprintf(
			"sequence %d spans bytes [%d, %d) beyond data of %d bytes",
			i, ptr, end, len(ds.binMap))}
	}
	return types.TokensFromBin(ds.binMap[ptr:end], ds.dtype)
}

// Window returns sequences [start, end) in order. The result always holds
// exactly end-start arrays; ranges that do not fit are a *RangeError.
func (ds *IndexedDataset) Window(start, end int) ([]types.Tokens, error) {
	if start < 0 || end <= start || end > ds.count {
		return nil, &RangeError{start, end, ds.count}
	}
	window := make([]types.Tokens, 0, end-start)
	for i := start; i < end; i++ {
		tokens, err := ds.Get(i)
		if err != nil {
			return nil, err
		}
		window = append(window, tokens)
	}
	return window, nil
}

// Close unmaps and closes both files.
func (ds *IndexedDataset) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if ds.binMap != nil {
		record(ds.binMap.Unmap())
		ds.binMap = nil
	}
	if ds.idxMap != nil {
		record(ds.idxMap.Unmap())
		ds.idxMap = nil
	}
	if ds.binFile != nil {
		record(ds.binFile.Close())
		ds.binFile = nil
	}
	if ds.idxFile != nil {
		record(ds.idxFile.Close())
		ds.idxFile = nil
	}
	ds.sizes, ds.pointers = nil, nil
	return firstErr
}
