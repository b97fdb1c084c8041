package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"chordkv/internal/wire"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func waitForEvent(t *testing.T, ch <-chan Event, timeout time.Duration) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for inbox event")
		return Event{}
	}
}

func requireNoEvent(t *testing.T, ch <-chan Event, within time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event delivered: %+v", ev)
	case <-time.After(within):
	}
}

// A malformed frame on a stream connection must be logged and
// dropped, never disconnect the peer (spec §4.10); the connection
// stays open for the next, well-formed frame.
func TestServeStreamDropsMalformedFrameKeepsConnectionOpen(t *testing.T) {
	l, err := Listen("127.0.0.1:0", testLogger())
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Serve(ctx)

	conn, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer conn.Close()

	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], 3)
	_, err = conn.Write(lenPrefix[:])
	require.NoError(t, err)
	_, err = conn.Write([]byte{0xff, 0xff, 0xff})
	require.NoError(t, err)

	requireNoEvent(t, l.Inbox, 200*time.Millisecond)

	good := wire.Message{Tag: wire.TagJoin, Addr: "peer:1"}
	require.NoError(t, wire.WriteFrame(conn, good))

	ev := waitForEvent(t, l.Inbox, time.Second)
	require.Equal(t, good, ev.Msg)

	// The connection is still open: a second well-formed frame on the
	// same socket is delivered too.
	second := wire.Message{Tag: wire.TagForwardJoin, Addr: "peer:2"}
	require.NoError(t, wire.WriteFrame(conn, second))
	ev2 := waitForEvent(t, l.Inbox, time.Second)
	require.Equal(t, second, ev2.Msg)
}

// A genuine I/O failure, here the client closing its side after a
// complete frame, ends that connection's read loop without touching
// the listener.
func TestServeStreamEndsOnConnectionClose(t *testing.T) {
	l, err := Listen("127.0.0.1:0", testLogger())
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Serve(ctx)

	conn, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)

	good := wire.Message{Tag: wire.TagJoin, Addr: "peer:3"}
	require.NoError(t, wire.WriteFrame(conn, good))
	waitForEvent(t, l.Inbox, time.Second)

	require.NoError(t, conn.Close())
	requireNoEvent(t, l.Inbox, 200*time.Millisecond)

	// The listener itself is unaffected: a fresh connection still works.
	conn2, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer conn2.Close()
	require.NoError(t, wire.WriteFrame(conn2, good))
	waitForEvent(t, l.Inbox, time.Second)
}

// A malformed UDP datagram is dropped without affecting subsequent
// datagrams, the connectionless analogue of the stream behavior above.
func TestServeDatagramDropsMalformedPacketKeepsListening(t *testing.T) {
	l, err := Listen("127.0.0.1:0", testLogger())
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.Serve(ctx)

	conn, err := net.Dial("udp", l.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0xff, 0xff, 0xff})
	require.NoError(t, err)
	requireNoEvent(t, l.Inbox, 200*time.Millisecond)

	good := wire.Message{Tag: wire.TagHeartBeat, Addr: "peer:4", Addr2: "peer:5"}
	raw, err := wire.Encode(good)
	require.NoError(t, err)
	_, err = conn.Write(raw)
	require.NoError(t, err)

	ev := waitForEvent(t, l.Inbox, time.Second)
	require.Equal(t, good, ev.Msg)
}

// bufio.Reader is exercised indirectly through net.Conn above; this
// guards the framing assumption readStream relies on directly, that
// ReadFrame leaves a *bufio.Reader positioned at the next frame after
// a decode failure.
func TestReadFrameOnBufioReaderResyncsAfterDecodeFailure(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		var lenPrefix [4]byte
		binary.LittleEndian.PutUint32(lenPrefix[:], 2)
		client.Write(lenPrefix[:])
		client.Write([]byte{0xff, 0xff})
		wire.WriteFrame(client, wire.Message{Tag: wire.TagJoin, Addr: "x:1"})
	}()

	r := bufio.NewReader(server)
	_, err := wire.ReadFrame(r)
	require.Error(t, err)

	msg, err := wire.ReadFrame(r)
	require.NoError(t, err)
	require.Equal(t, wire.Message{Tag: wire.TagJoin, Addr: "x:1"}, msg)
}
