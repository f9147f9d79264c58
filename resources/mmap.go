package resources

import (
	"os"

	"github.com/edsrzf/mmap-go"
)

func readMmap(file *os.File) (mmap.MMap, error) {
	stat, statErr := file.Stat()
	if statErr != nil {
		return nil, statErr
	}
	// Zero-length files cannot be mapped.
	if stat.Size() == 0 {
		return nil, nil
	}
	return mmap.Map(file, mmap.RDONLY, 0)
}
