package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-msgpack/codec"
)

// ErrDecode marks a failure to decode a frame's payload into a
// Message, as opposed to a failure to read the frame's bytes off the
// wire in the first place. The two are distinguishable because a
// decode failure only ever happens after the exact number of framed
// bytes has already been consumed, so the stream is left positioned
// at the start of the next frame; callers can log and keep reading
// rather than tearing down the connection (spec §4.10: "Decode
// failure: drop the frame and log; never disconnect").
var ErrDecode = errors.New("wire: decode failure")

// handle is shared across every Encode/Decode call; codec.Handle
// values are safe for concurrent use once configured, so one process-
// wide instance avoids re-building encoder/decoder options per frame.
var handle = &codec.MsgpackHandle{}

// maxFrameLen bounds a single frame so a malformed or hostile length
// prefix can't make ReadFrame allocate unbounded memory (spec §4.10:
// "Decode failure: drop the frame and log; never disconnect", this
// is the first line of defense before a decode is even attempted).
const maxFrameLen = 64 << 20 // 64 MiB, generous for any blob this system stores

// Encode serializes m to its canonical msgpack form.
func Encode(m Message) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, handle)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", m.Tag, err)
	}
	return buf, nil
}

// Decode parses a msgpack-encoded Message. Any failure satisfies
// errors.Is(err, ErrDecode).
func Decode(b []byte) (Message, error) {
	var m Message
	dec := codec.NewDecoderBytes(b, handle)
	if err := dec.Decode(&m); err != nil {
		return Message{}, fmt.Errorf("wire: decode: %w: %w", ErrDecode, err)
	}
	return m, nil
}

// WriteFrame writes m as a length-delimited frame: a little-endian
// uint32 byte count followed by the msgpack payload (spec §6: "All
// integers are little-endian in the chosen canonical binary form").
func WriteFrame(w io.Writer, m Message) error {
	payload, err := Encode(m)
	if err != nil {
		return err
	}
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-delimited frame from r and decodes it.
func ReadFrame(r *bufio.Reader) (Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Message{}, err
	}
	n := binary.LittleEndian.Uint32(lenPrefix[:])
	if n > maxFrameLen {
		return Message{}, fmt.Errorf("wire: frame length %d exceeds max %d", n, maxFrameLen)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, fmt.Errorf("wire: read frame body: %w", err)
	}
	return Decode(payload)
}
