package resources

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/edsrzf/mmap-go"
)

type ResourceFlag uint8

// WriteCounter counts the number of bytes written to it, and every 10 seconds,
// it prints a message reporting the number of bytes written so far.
type WriteCounter struct {
	Total    uint64
	Last     time.Time
	Reported bool
	Path     string
	Size     uint64
}

func (wc *WriteCounter) Write(p []byte) (int, error) {
	n := len(p)
	wc.Total += uint64(n)
	if time.Since(wc.Last).Seconds() > 10 {
		wc.Reported = true
		wc.Last = time.Now()
		log.Printf("Downloading %s... %s / %s completed.",
			wc.Path, humanize.Bytes(wc.Total), humanize.Bytes(wc.Size))
	}
	return n, nil
}

// Enumeration of resource flags that indicate what the resolver should do
// with the resource.
const (
	RESOURCE_REQUIRED ResourceFlag = 1 << iota
	RESOURCE_OPTIONAL
	RESOURCE_ONEOF
)

type ResourceEntryDefs map[string]ResourceFlag

// ResourceEntry is a resolved file, held open and memory mapped until
// Cleanup is called.
type ResourceEntry struct {
	file *os.File
	mmap mmap.MMap
	Data []byte
}

type Resources map[string]ResourceEntry

// Cleanup unmaps and closes every entry.
func (rsrcs Resources) Cleanup() {
	for name, rsrc := range rsrcs {
		if rsrc.mmap != nil {
			_ = rsrc.mmap.Unmap()
		}
		if rsrc.file != nil {
			_ = rsrc.file.Close()
		}
		delete(rsrcs, name)
	}
}

// GetResourceEntries
// Returns the tokenizer files a decoder can be built from. At least one of
// the RESOURCE_ONEOF entries must resolve.
func GetResourceEntries() ResourceEntryDefs {
	return ResourceEntryDefs{
		"tokenizer.json":          RESOURCE_ONEOF,
		"vocab.json":              RESOURCE_ONEOF,
		"added_tokens.json":       RESOURCE_OPTIONAL,
		"special_tokens_map.json": RESOURCE_OPTIONAL,
		"tokenizer_config.json":   RESOURCE_OPTIONAL,
	}
}

// AddEntry
// Add a resource to the Resources map, opening it as a mmap.Map.
func (rsrcs Resources) AddEntry(name string, file *os.File) error {
	fileMmap, mmapErr := readMmap(file)
	if mmapErr != nil {
		return fmt.Errorf("error trying to mmap file: %w", mmapErr)
	}
	rsrcs[name] = ResourceEntry{file: file, mmap: fileMmap, Data: fileMmap}
	return nil
}

// CacheDir returns the directory a vocabulary id is cached into below
// `root`. Local directories are used in place.
func CacheDir(vocabId string, root string) string {
	if isLocalDir(vocabId) {
		return vocabId
	}
	name := vocabId
	if isValidUrl(vocabId) {
		name = strings.SplitN(vocabId, "://", 2)[1]
	}
	name = strings.NewReplacer("/", "--", ":", "_").Replace(
		strings.Trim(name, "/"))
	return filepath.Join(root, name)
}

// download copies `rsrc` from `uri` into `target` through a temporary file,
// so that concurrent readers never observe a partial resource.
func download(uri, rsrc, target, auth string, size uint) error {
	rsrcReader, rsrcErr := Fetch(uri, rsrc, auth)
	if rsrcErr != nil {
		return fmt.Errorf("cannot retrieve `%s` from `%s`: %w",
			rsrc, uri, rsrcErr)
	}
	defer rsrcReader.Close()

	tmp, tmpErr := os.CreateTemp(filepath.Dir(target), "."+rsrc+".tmp-*")
	if tmpErr != nil {
		return fmt.Errorf("error opening '%s' for write: %w", rsrc, tmpErr)
	}
	counter := &WriteCounter{
		Last: time.Now(),
		Path: fmt.Sprintf("%s/%s", uri, rsrc),
		Size: uint64(size),
	}
	bytesDownloaded, ioErr := io.Copy(tmp, io.TeeReader(rsrcReader, counter))
	if closeErr := tmp.Close(); ioErr == nil {
		ioErr = closeErr
	}
	if ioErr != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("error downloading '%s': %w", rsrc, ioErr)
	}
	if renameErr := os.Rename(tmp.Name(), target); renameErr != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("error moving '%s' into place: %w", rsrc,
			renameErr)
	}
	log.Printf("Downloaded %s/%s... %s completed.", uri, rsrc,
		humanize.Bytes(uint64(bytesDownloaded)))
	return nil
}

// ResolveResources resolves all tokenizer resources at a given uri into
// `dir`, downloading what is missing, and maps them. When `uri` is itself a
// local directory the files are mapped in place and `dir` is ignored.
func ResolveResources(uri string, dir string, auth string) (*Resources,
	error) {
	foundResources := make(Resources, 0)
	entries := GetResourceEntries()
	local := isLocalDir(uri)
	if local {
		dir = uri
	} else if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
		return nil, mkErr
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, file := range names {
		flag := entries[file]
		targetPath := path.Join(dir, file)
		rsrcSize, rsrcSizeErr := Size(uri, file, auth)
		if rsrcSizeErr != nil {
			if flag&RESOURCE_REQUIRED != 0 {
				foundResources.Cleanup()
				return nil, fmt.Errorf(
					"cannot retrieve required `%s` from `%s`: %w",
					file, uri, rsrcSizeErr)
			}
			log.Printf("Resolved %s/%s... not there, not required.",
				uri, file)
			continue
		}
		if !local {
			targetStat, targetStatErr := os.Stat(targetPath)
			if targetStatErr == nil && (rsrcSize == 0 ||
				uint(targetStat.Size()) == rsrcSize) {
				log.Printf("Skipping %s/%s... already exists, "+
					"and of the correct size.", uri, file)
			} else if dlErr := download(uri, file, targetPath, auth,
				rsrcSize); dlErr != nil {
				foundResources.Cleanup()
				return nil, dlErr
			}
		}
		openFile, openErr := os.Open(targetPath)
		if openErr != nil {
			foundResources.Cleanup()
			return nil, fmt.Errorf("error opening '%s': %w", file, openErr)
		}
		if mmapErr := foundResources.AddEntry(file, openFile); mmapErr != nil {
			openFile.Close()
			foundResources.Cleanup()
			return nil, mmapErr
		}
	}

	oneOf := false
	for file, flag := range entries {
		if _, ok := foundResources[file]; ok && flag&RESOURCE_ONEOF != 0 {
			oneOf = true
		}
	}
	if !oneOf {
		foundResources.Cleanup()
		return nil, errors.New(fmt.Sprintf(
			"`%s` has neither tokenizer.json nor vocab.json", uri))
	}
	return &foundResources, nil
}

// ResolveVocabId
// Resolves a vocabulary id (local directory, URL or HuggingFace id) to a
// local directory holding its tokenizer resources, and maps them.
func ResolveVocabId(vocabId string, cacheRoot string, auth string) (
	dir string, rsrcs *Resources, err error) {
	dir = CacheDir(vocabId, cacheRoot)
	rsrcs, err = ResolveResources(vocabId, dir, auth)
	if err != nil {
		return "", nil, err
	}
	return dir, rsrcs, nil
}
