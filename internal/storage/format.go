// internal/storage/format.go
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the fixed on-disk header length.
	HeaderSize = 32
	// RecordSize is the packed length of one sample record.
	RecordSize = 10
	// Magic is the header magic as a little-endian 32-bit integer;
	// on disk it reads 0x52 0x41 0x57 0x41.
	Magic uint32 = 0x41574152
	// Version is the current format version.
	Version uint32 = 1
	// SampleRate is the nominal capture rate in samples per second.
	SampleRate uint32 = 16000
)

var (
	// ErrShortHeader indicates fewer than HeaderSize bytes were available.
	ErrShortHeader = errors.New("recording header truncated")
	// ErrBadMagic indicates the header magic did not match.
	ErrBadMagic = errors.New("bad recording magic")
	// ErrBadVersion indicates an unsupported format version.
	ErrBadVersion = errors.New("unsupported recording version")
)

// Header is the fixed 32-byte prefix of a recording file. TotalSamples and
// EndMs stay zero on disk while the file is open; a clean stop rewrites
// them. Sixteen reserved zero bytes pad the header to 32.
type Header struct {
	Magic        uint32
	Version      uint32
	SampleRate   uint32
	TotalSamples uint32
	StartMs      uint32
	EndMs        uint32
}

// NewHeader returns the header written at recording start.
func NewHeader(startMs uint32) Header {
	return Header{
		Magic:      Magic,
		Version:    Version,
		SampleRate: SampleRate,
		StartMs:    startMs,
	}
}

// Encode packs the header into dst, which must be at least HeaderSize long.
func (h Header) Encode(dst []byte) {
	_ = dst[HeaderSize-1]
	binary.LittleEndian.PutUint32(dst[0:], h.Magic)
	binary.LittleEndian.PutUint32(dst[4:], h.Version)
	binary.LittleEndian.PutUint32(dst[8:], h.SampleRate)
	binary.LittleEndian.PutUint32(dst[12:], h.TotalSamples)
	binary.LittleEndian.PutUint32(dst[16:], h.StartMs)
	binary.LittleEndian.PutUint32(dst[20:], h.EndMs)
	for i := 24; i < HeaderSize; i++ {
		dst[i] = 0
	}
}

// DecodeHeader parses and validates a header from b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	h := Header{
		Magic:        binary.LittleEndian.Uint32(b[0:]),
		Version:      binary.LittleEndian.Uint32(b[4:]),
		SampleRate:   binary.LittleEndian.Uint32(b[8:]),
		TotalSamples: binary.LittleEndian.Uint32(b[12:]),
		StartMs:      binary.LittleEndian.Uint32(b[16:]),
		EndMs:        binary.LittleEndian.Uint32(b[20:]),
	}
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("%w: got 0x%08x", ErrBadMagic, h.Magic)
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: got %d", ErrBadVersion, h.Version)
	}
	return h, nil
}

// Record is one packed 10-byte sample: the sanitized 12-bit reading, the
// millisecond timestamp at sampling, and the boot-global persisted
// sequence number (wraps modulo 2^32).
type Record struct {
	Value       uint16
	TimestampMs uint32
	SequenceNo  uint32
}

// Encode packs the record into dst, which must be at least RecordSize long.
func (r Record) Encode(dst []byte) {
	_ = dst[RecordSize-1]
	binary.LittleEndian.PutUint16(dst[0:], r.Value)
	binary.LittleEndian.PutUint32(dst[2:], r.TimestampMs)
	binary.LittleEndian.PutUint32(dst[6:], r.SequenceNo)
}

// DecodeRecord unpacks one record from b.
func DecodeRecord(b []byte) Record {
	return Record{
		Value:       binary.LittleEndian.Uint16(b[0:]),
		TimestampMs: binary.LittleEndian.Uint32(b[2:]),
		SequenceNo:  binary.LittleEndian.Uint32(b[6:]),
	}
}
