package corpus

import "fmt"

// RangeError reports a document window that does not fit inside the
// corpus.
type RangeError struct {
	Start  int
	End    int
	Length int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("corpus range [%d, %d) outside corpus of %d documents",
		e.Start, e.End, e.Length)
}

// FormatError reports an index or data file that cannot be read as an
// indexed dataset.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}
