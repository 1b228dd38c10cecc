// internal/egress/frame_test.go
package egress

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

func TestPayloadBudget(t *testing.T) {
	cases := []struct {
		mtu  int
		want int
	}{
		{23, 15},   // minimum ATT MTU
		{185, 177}, // preferred MTU
		{203, 195}, // exactly the chunk cap
		{517, 195}, // large MTUs are capped
		{8, 1},     // degenerate MTUs still make progress
		{0, 1},
	}
	for _, tc := range cases {
		if got := PayloadBudget(tc.mtu); got != tc.want {
			t.Errorf("PayloadBudget(%d) = %d, want %d", tc.mtu, got, tc.want)
		}
	}
}

func TestChunk_Encode(t *testing.T) {
	c := Chunk{Seq: 0x0102, EOF: true, Payload: []byte{0xAA}}
	got := c.Encode()
	want := []byte{0x02, 0x01, 0x01, 0x00, 0x01, 0xAA}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode = % x, want % x", got, want)
	}
}

func TestChunk_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := Chunk{
			Seq:     rapid.Uint16().Draw(t, "seq"),
			EOF:     rapid.Bool().Draw(t, "eof"),
			Payload: rapid.SliceOfN(rapid.Byte(), 0, MaxPayload).Draw(t, "payload"),
		}
		got, err := DecodeChunk(c.Encode())
		if err != nil {
			t.Fatalf("DecodeChunk: %v", err)
		}
		if got.Seq != c.Seq || got.EOF != c.EOF || !bytes.Equal(got.Payload, c.Payload) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, c)
		}
	})
}

func TestDecodeChunk_Rejects(t *testing.T) {
	if _, err := DecodeChunk([]byte{1, 2, 3}); err == nil {
		t.Error("short frame accepted")
	}
	// Length field disagrees with the payload size.
	bad := Chunk{Seq: 1, Payload: []byte{1, 2, 3}}.Encode()
	bad = bad[:len(bad)-1]
	if _, err := DecodeChunk(bad); err == nil {
		t.Error("mismatched length accepted")
	}
}

func TestAllocBackoff_Schedule(t *testing.T) {
	wantMs := []int{10, 20, 40, 80, 100, 100, 100}
	for i, ms := range wantMs {
		if got := allocBackoff(i + 1); got.Milliseconds() != int64(ms) {
			t.Errorf("allocBackoff(%d) = %v, want %dms", i+1, got, ms)
		}
	}
}
