// internal/storage/reader.go
package storage

import (
	"fmt"
	"io"
	"os"
)

// Report describes a recording file as found on storage, cross-checking
// the header-claimed sample count against the byte size. A file that was
// never finalized (power loss mid-record) carries zero TotalSamples and
// EndMs; its true count is SizeDerived.
type Report struct {
	Header      Header
	FileSize    int64
	SizeDerived uint32
	Finalized   bool
	Consistent  bool
}

// Inspect reads and cross-checks the header of the file at path.
func Inspect(path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return Report{}, fmt.Errorf("read header: %w", err)
	}
	h, err := DecodeHeader(hdr[:])
	if err != nil {
		return Report{}, err
	}

	fi, err := f.Stat()
	if err != nil {
		return Report{}, fmt.Errorf("stat recording: %w", err)
	}
	size := fi.Size()

	r := Report{
		Header:    h,
		FileSize:  size,
		Finalized: h.TotalSamples != 0 || h.EndMs != 0,
	}
	if size >= HeaderSize {
		r.SizeDerived = uint32((size - HeaderSize) / RecordSize)
	}
	r.Consistent = size == HeaderSize+int64(h.TotalSamples)*RecordSize &&
		(size-HeaderSize)%RecordSize == 0
	return r, nil
}

// ReadAll loads a complete recording: its header and every sample record
// the byte size supports. Readers must trust the size-derived count over
// the header for unfinalized files, so records are read to EOF, not to
// the header count.
func ReadAll(path string) (Header, []Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return Header{}, nil, fmt.Errorf("read header: %w", err)
	}
	h, err := DecodeHeader(hdr[:])
	if err != nil {
		return Header{}, nil, err
	}

	var recs []Record
	var buf [RecordSize]byte
	for {
		_, err := io.ReadFull(f, buf[:])
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			// Trailing partial record from an interrupted batch.
			break
		}
		if err != nil {
			return h, recs, fmt.Errorf("read record: %w", err)
		}
		recs = append(recs, DecodeRecord(buf[:]))
	}
	return h, recs, nil
}
