package tfevents

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrBadChecksum indicates a record failed CRC validation, usually
// because the file is corrupt or was written by something else.
var ErrBadChecksum = errors.New("tfevents: bad record checksum")

// RecordWriter frames payloads in the tfevents record format:
//
//	(all integers little-endian)
//	  uint64  length
//	  uint32  masked CRC-32C of length
//	  byte    data[length]
//	  uint32  masked CRC-32C of data
type RecordWriter struct {
	w io.Writer
}

func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: w}
}

// WriteRecord writes one framed record.
func (rw *RecordWriter) WriteRecord(data []byte) error {
	var header [12]byte
	binary.LittleEndian.PutUint64(header[0:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(header[8:12], MaskedCRC32C(header[0:8]))

	if _, err := rw.w.Write(header[:]); err != nil {
		return fmt.Errorf("tfevents: failed to write record header: %v", err)
	}
	if _, err := rw.w.Write(data); err != nil {
		return fmt.Errorf("tfevents: failed to write record data: %v", err)
	}

	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], MaskedCRC32C(data))
	if _, err := rw.w.Write(footer[:]); err != nil {
		return fmt.Errorf("tfevents: failed to write record footer: %v", err)
	}

	return nil
}

// RecordReader reads framed records, validating checksums.
type RecordReader struct {
	r io.Reader
}

func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: r}
}

// ReadRecord returns the next record's payload.
//
// Returns io.EOF at a clean end of the stream and
// io.ErrUnexpectedEOF if the stream ends mid-record.
func (rr *RecordReader) ReadRecord() ([]byte, error) {
	var header [12]byte
	if _, err := io.ReadFull(rr.r, header[:8]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rr.r, header[8:]); err != nil {
		return nil, eofIsUnexpected(err)
	}

	length := binary.LittleEndian.Uint64(header[0:8])
	if MaskedCRC32C(header[0:8]) != binary.LittleEndian.Uint32(header[8:12]) {
		return nil, fmt.Errorf("%w (header)", ErrBadChecksum)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(rr.r, data); err != nil {
		return nil, eofIsUnexpected(err)
	}

	var footer [4]byte
	if _, err := io.ReadFull(rr.r, footer[:]); err != nil {
		return nil, eofIsUnexpected(err)
	}
	if MaskedCRC32C(data) != binary.LittleEndian.Uint32(footer[:]) {
		return nil, fmt.Errorf("%w (data)", ErrBadChecksum)
	}

	return data, nil
}

func eofIsUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
