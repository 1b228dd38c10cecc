// internal/storage/format_test.go
package storage

import (
	"bytes"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestHeader_MagicBytesOnDisk(t *testing.T) {
	var buf [HeaderSize]byte
	NewHeader(0).Encode(buf[:])
	if !bytes.Equal(buf[:4], []byte{0x52, 0x41, 0x57, 0x41}) {
		t.Errorf("magic bytes = % x, want 52 41 57 41", buf[:4])
	}
}

func TestHeader_RoundTrip(t *testing.T) {
	h := NewHeader(1234)
	h.TotalSamples = 99
	h.EndMs = 5678

	var buf [HeaderSize]byte
	h.Encode(buf[:])

	got, err := DecodeHeader(buf[:])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != h {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, h)
	}
	// Reserved words stay zero.
	for i := 24; i < HeaderSize; i++ {
		if buf[i] != 0 {
			t.Errorf("reserved byte %d = %#x, want 0", i, buf[i])
		}
	}
}

func TestDecodeHeader_Rejects(t *testing.T) {
	var good [HeaderSize]byte
	NewHeader(0).Encode(good[:])

	t.Run("short", func(t *testing.T) {
		if _, err := DecodeHeader(good[:HeaderSize-1]); !errors.Is(err, ErrShortHeader) {
			t.Errorf("err = %v, want ErrShortHeader", err)
		}
	})
	t.Run("magic", func(t *testing.T) {
		bad := good
		bad[0] = 'X'
		if _, err := DecodeHeader(bad[:]); !errors.Is(err, ErrBadMagic) {
			t.Errorf("err = %v, want ErrBadMagic", err)
		}
	})
	t.Run("version", func(t *testing.T) {
		bad := good
		bad[4] = 9
		if _, err := DecodeHeader(bad[:]); !errors.Is(err, ErrBadVersion) {
			t.Errorf("err = %v, want ErrBadVersion", err)
		}
	})
}

func TestRecord_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := Record{
			Value:       rapid.Uint16Range(0, 4095).Draw(t, "value"),
			TimestampMs: rapid.Uint32().Draw(t, "ts"),
			SequenceNo:  rapid.Uint32().Draw(t, "seq"),
		}
		var buf [RecordSize]byte
		r.Encode(buf[:])
		if got := DecodeRecord(buf[:]); got != r {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, r)
		}
	})
}
