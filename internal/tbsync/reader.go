package tbsync

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/vistream/vistream/internal/observability"
	"github.com/vistream/vistream/internal/tfevents"
)

// fileSequenceReader reads events out of a directory's tfevents
// files, in file-name order.
//
// TensorBoard writers may roll over to a new file at any time; a new
// file is only consulted once the current file stops yielding data.
type fileSequenceReader struct {
	dir    string
	logger *observability.Logger

	buffer  []byte
	current string
	offset  int64
}

func newFileSequenceReader(
	dir string,
	logger *observability.Logger,
) *fileSequenceReader {
	return &fileSequenceReader{dir: dir, logger: logger}
}

// NextEvent returns the next event in the sequence, or nil if no
// complete event is available yet.
func (r *fileSequenceReader) NextEvent() (*tfevents.Event, error) {
	read := uint64(0)

	if !r.ensure(read + 8) {
		return nil, nil
	}
	headerBytes := r.buffer[read : read+8]
	length := binary.LittleEndian.Uint64(headerBytes)
	read += 8

	if !r.ensure(read + 4) {
		return nil, nil
	}
	headerCRC := binary.LittleEndian.Uint32(r.buffer[read : read+4])
	read += 4

	if tfevents.MaskedCRC32C(headerBytes) != headerCRC {
		return nil, fmt.Errorf(
			"tbsync: bad checksum for event header in %s", r.current)
	}

	if !r.ensure(read + length) {
		return nil, nil
	}
	eventBytes := r.buffer[read : read+length]
	read += length

	if !r.ensure(read + 4) {
		return nil, nil
	}
	eventCRC := binary.LittleEndian.Uint32(r.buffer[read : read+4])
	read += 4

	if tfevents.MaskedCRC32C(eventBytes) != eventCRC {
		return nil, fmt.Errorf(
			"tbsync: bad checksum for event in %s", r.current)
	}

	event, err := tfevents.UnmarshalEvent(eventBytes)
	if err != nil {
		return nil, err
	}

	r.buffer = slices.Clone(r.buffer[read:])
	return event, nil
}

// ensure tries to fill the buffer to at least count bytes, moving to
// the next tfevents file when the current one is exhausted.
func (r *fileSequenceReader) ensure(count uint64) bool {
	if uint64(len(r.buffer)) >= count {
		return true
	}

	if r.current == "" {
		r.current = r.nextFile()
		if r.current == "" {
			return false
		}
	}

	for {
		// Find the next file before reading, so events appended to
		// the current file between those two steps aren't skipped.
		next := r.nextFile()

		ok, err := r.readFromCurrent(count)
		if ok {
			return true
		}
		if err != nil && err != io.EOF {
			r.logger.CaptureError(
				fmt.Errorf("tbsync: error reading %s: %v", r.current, err))
			return false
		}

		if next == "" {
			return false
		}

		r.current = next
		r.offset = 0
	}
}

// nextFile returns the tfevents file after the current one in name
// order, or "" if there is none yet.
func (r *fileSequenceReader) nextFile() string {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		r.logger.Warn("tbsync: failed to list log dir", "error", err)
		return ""
	}

	currentName := filepath.Base(r.current)

	best := ""
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.Contains(name, "tfevents") {
			continue
		}
		if r.current != "" && name <= currentName {
			continue
		}
		if best == "" || name < best {
			best = name
		}
	}

	if best == "" {
		return ""
	}
	return filepath.Join(r.dir, best)
}

// readFromCurrent reads from the current file until the buffer has
// count bytes or the file runs out.
func (r *fileSequenceReader) readFromCurrent(count uint64) (bool, error) {
	file, err := os.Open(r.current)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = file.Close()
	}()

	if _, err := file.Seek(r.offset, io.SeekStart); err != nil {
		return false, err
	}

	chunk := make([]byte, max(count, 4096))
	for uint64(len(r.buffer)) < count {
		n, err := file.Read(chunk)
		r.buffer = append(r.buffer, chunk[:n]...)
		r.offset += int64(n)

		if err != nil {
			return false, err
		}
	}

	return true, nil
}
