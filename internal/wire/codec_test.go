package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := Message{
		Tag:           TagFind,
		RequestID:     "req-1",
		TargetID:      bytes.Repeat([]byte{0x42}, 32),
		RequesterAddr: "10.0.0.1:9000",
	}

	raw, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestEncodeDecodeRoundTripWithBlob(t *testing.T) {
	msg := Message{
		Tag:       TagUserPut,
		ReplyAddr: "10.0.0.2:9001",
		Blob:      &Blob{Name: "prova2.txt", Buffer: []byte("hello world")},
	}

	raw, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, decoded.Blob)
	assert.Equal(t, *msg.Blob, *decoded.Blob)
	assert.Equal(t, msg.Tag, decoded.Tag)
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	msg := Message{Tag: TagHeartBeat, Addr: "10.0.0.3:9002", Addr2: "10.0.0.4:9003"}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, msg))

	decoded, err := ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestReadFrameMultipleMessages(t *testing.T) {
	first := Message{Tag: TagJoin, Addr: "a:1"}
	second := Message{Tag: TagForwardJoin, Addr: "b:1"}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, first))
	require.NoError(t, WriteFrame(&buf, second))

	r := bufio.NewReader(&buf)
	got1, err := ReadFrame(r)
	require.NoError(t, err)
	got2, err := ReadFrame(r)
	require.NoError(t, err)

	assert.Equal(t, first, got1)
	assert.Equal(t, second, got2)
}

func TestTagStringKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "Join", TagJoin.String())
	assert.Equal(t, "Unknown", Tag(255).String())
}

func TestDecodeMalformedPayloadIsErrDecode(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
}

// A well-framed payload that fails to decode still leaves the stream
// positioned at the next frame: ReadFrame must be able to recover a
// valid message that follows a malformed one, and the malformed one's
// error must satisfy errors.Is(err, ErrDecode).
func TestReadFrameRecoversAfterMalformedPayload(t *testing.T) {
	good := Message{Tag: TagJoin, Addr: "a:1"}

	var buf bytes.Buffer
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], 3)
	buf.Write(lenPrefix[:])
	buf.Write([]byte{0xff, 0xff, 0xff})
	require.NoError(t, WriteFrame(&buf, good))

	r := bufio.NewReader(&buf)
	_, err := ReadFrame(r)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))

	decoded, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, good, decoded)
}

func TestReadFrameShortReadIsNotErrDecode(t *testing.T) {
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], 10)
	buf := bytes.NewBuffer(lenPrefix[:])
	buf.Write([]byte{0x01, 0x02})

	_, err := ReadFrame(bufio.NewReader(buf))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDecode))
}
