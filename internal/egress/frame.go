// internal/egress/frame.go
package egress

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/openwearable/badgecore/internal/ble"
)

const (
	// FrameHeaderSize is the per-chunk framing cost: seq (2), length (2),
	// eof flag (1).
	FrameHeaderSize = 5
	// MaxChunk bounds a whole framed chunk regardless of MTU.
	MaxChunk = 200
	// MaxPayload is the largest payload a single chunk can carry.
	MaxPayload = MaxChunk - FrameHeaderSize
)

// ErrShortFrame indicates a frame too small to carry its own header.
var ErrShortFrame = errors.New("egress frame truncated")

// PayloadBudget computes how many file bytes fit in one notification at
// the given MTU, after the ATT overhead and the frame header. Never less
// than one, so progress is always possible.
func PayloadBudget(mtu int) int {
	b := mtu - ble.ATTOverhead - FrameHeaderSize
	if b > MaxPayload {
		b = MaxPayload
	}
	if b < 1 {
		b = 1
	}
	return b
}

// Chunk is one framed unit of a transfer. Seq starts at zero and
// increases by one per chunk; the receiver reconstructs the file by
// concatenating payloads in seq order.
type Chunk struct {
	Seq     uint16
	EOF     bool
	Payload []byte
}

// Encode renders the chunk into its wire form.
func (c Chunk) Encode() []byte {
	out := make([]byte, FrameHeaderSize+len(c.Payload))
	binary.LittleEndian.PutUint16(out[0:], c.Seq)
	binary.LittleEndian.PutUint16(out[2:], uint16(len(c.Payload)))
	if c.EOF {
		out[4] = 1
	}
	copy(out[FrameHeaderSize:], c.Payload)
	return out
}

// DecodeChunk parses one wire frame.
func DecodeChunk(b []byte) (Chunk, error) {
	if len(b) < FrameHeaderSize {
		return Chunk{}, ErrShortFrame
	}
	length := int(binary.LittleEndian.Uint16(b[2:]))
	if len(b) != FrameHeaderSize+length {
		return Chunk{}, fmt.Errorf("%w: length field %d, payload %d",
			ErrShortFrame, length, len(b)-FrameHeaderSize)
	}
	c := Chunk{
		Seq:     binary.LittleEndian.Uint16(b[0:]),
		EOF:     b[4] == 1,
		Payload: append([]byte(nil), b[FrameHeaderSize:]...),
	}
	return c, nil
}
