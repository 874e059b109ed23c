// Package wire implements the broker's framing and envelope encoding.
//
// Every message on the wire is a 4-byte big-endian length prefix followed by
// that many bytes of envelope. The envelope is a protobuf record carrying a
// numeric payload-type tag, the opaque payload, and an optional correlation
// id string.
package wire

import (
	"encoding/binary"
	"fmt"
)

// MaxFrameSize caps the declared length of a single frame. Frames claiming
// more than this are treated as protocol corruption.
const MaxFrameSize = 16 * 1024 * 1024

const lenHeaderSize = 4

// EncodeFrame prepends the 4-byte big-endian length prefix to an envelope.
func EncodeFrame(envelope []byte) []byte {
	out := make([]byte, lenHeaderSize+len(envelope))
	binary.BigEndian.PutUint32(out[:lenHeaderSize], uint32(len(envelope)))
	copy(out[lenHeaderSize:], envelope)
	return out
}

// FrameDecoder accumulates raw stream bytes and yields complete envelopes.
// Partial frames stay buffered until the remaining bytes arrive; the length
// header is only consumed together with its full frame.
type FrameDecoder struct {
	buf []byte
}

// Feed appends stream bytes and returns every complete envelope now
// available, in order. It returns an error if a frame declares a length
// above MaxFrameSize; the decoder is unusable after that.
func (d *FrameDecoder) Feed(data []byte) ([][]byte, error) {
	d.buf = append(d.buf, data...)

	var frames [][]byte
	for {
		if len(d.buf) < lenHeaderSize {
			break
		}
		n := binary.BigEndian.Uint32(d.buf[:lenHeaderSize])
		if n > MaxFrameSize {
			return frames, fmt.Errorf("frame length %d exceeds cap %d", n, MaxFrameSize)
		}
		total := lenHeaderSize + int(n)
		if len(d.buf) < total {
			break
		}
		frame := make([]byte, n)
		copy(frame, d.buf[lenHeaderSize:total])
		frames = append(frames, frame)
		d.buf = d.buf[total:]
	}

	// Release the backing array once fully drained.
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames, nil
}

// Pending returns the number of buffered bytes awaiting frame completion.
func (d *FrameDecoder) Pending() int {
	return len(d.buf)
}

// Reset discards any buffered partial frame. Call after a reconnect.
func (d *FrameDecoder) Reset() {
	d.buf = nil
}
