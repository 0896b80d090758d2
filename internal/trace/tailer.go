package trace

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Tailer reads a growing JSONL file incrementally. It holds a byte offset
// between polls; a trailing line without a newline stays unread until the
// writer completes it.
type Tailer struct {
	path   string
	offset int64
}

// NewTailer starts tailing path from the beginning.
func NewTailer(path string) *Tailer {
	return &Tailer{path: path}
}

// Offset is the number of bytes consumed so far.
func (t *Tailer) Offset() int64 { return t.offset }

// Next returns the complete lines appended since the previous call, blank
// lines excluded. A file that does not exist yet reads as no new lines.
func (t *Tailer) Next() ([][]byte, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek trace file: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}

	var lines [][]byte
	consumed := 0
	for {
		i := bytes.IndexByte(data[consumed:], '\n')
		if i < 0 {
			break
		}
		line := data[consumed : consumed+i]
		consumed += i + 1
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	t.offset += int64(consumed)
	return lines, nil
}
