package dht

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chordkv/internal/ring"
	"chordkv/internal/storage"
	"chordkv/internal/transport"
	"chordkv/internal/wire"
)

// testNode is a real Node driven over real loopback TCP/UDP traffic,
// matching SPEC_FULL §2.4's "no mocked transport" requirement for
// multi-node tests.
type testNode struct {
	node *Node
	addr string
}

func startTestNode(t *testing.T) *testNode {
	t.Helper()
	log := testLog()

	ln, err := transport.Listen("127.0.0.1:0", log)
	require.NoError(t, err)

	registry := transport.NewRegistry(2*time.Second, log)
	idx, err := storage.Open(t.TempDir())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.StabilizeBase = 20 * time.Millisecond
	cfg.StabilizeMax = 100 * time.Millisecond
	cfg.HeartbeatPeriod = 20 * time.Millisecond
	cfg.HeartbeatTimeout = 200 * time.Millisecond
	cfg.RetryDrainInterval = 20 * time.Millisecond

	node := New(ln.Addr(), registry, idx, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	ln.Serve(ctx)
	go node.Run(ctx, ln.Inbox)

	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
		_ = idx.Close()
		registry.CloseAll()
	})

	return &testNode{node: node, addr: ln.Addr()}
}

// clientRequest dials target, sends req with a fresh reply listener
// installed as req.ReplyAddr, and waits for the first terminal (i.e.
// non-ForwarderTo) reply, matching the real client protocol: the
// owning node answers by opening its own connection back to
// ReplyAddr rather than replying on the original connection.
func clientRequest(t *testing.T, target string, req wire.Message) wire.Message {
	t.Helper()

	lc, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lc.Close()

	req.ReplyAddr = lc.Addr().String()

	conn, err := net.Dial("tcp", target)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, wire.WriteFrame(conn, req))

	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, lc.(*net.TCPListener).SetDeadline(deadline))
		reply, err := lc.Accept()
		require.NoError(t, err)
		msg, err := wire.ReadFrame(bufio.NewReader(reply))
		reply.Close()
		require.NoError(t, err)
		if msg.Tag == wire.TagForwarderTo {
			continue
		}
		return msg
	}
}

// clientRequestNoWait is clientRequest's negative-case counterpart:
// it gives up after within and returns nil instead of failing the
// test, for asserting that a node deliberately sends no reply at all.
func clientRequestNoWait(t *testing.T, target string, req wire.Message, within time.Duration) *wire.Message {
	t.Helper()

	lc, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lc.Close()

	req.ReplyAddr = lc.Addr().String()

	conn, err := net.Dial("tcp", target)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, wire.WriteFrame(conn, req))

	require.NoError(t, lc.(*net.TCPListener).SetDeadline(time.Now().Add(within)))
	reply, err := lc.Accept()
	if err != nil {
		return nil
	}
	defer reply.Close()
	msg, err := wire.ReadFrame(bufio.NewReader(reply))
	if err != nil {
		return nil
	}
	return &msg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition never became true within %s", timeout)
}

func TestSingletonPutAndGet(t *testing.T) {
	a := startTestNode(t)

	key := ring.HashKey("prova2.txt").String()
	putReply := clientRequest(t, a.addr, wire.Message{
		Tag:  wire.TagUserPut,
		Blob: &wire.Blob{Name: "prova2.txt", Buffer: []byte("hello world")},
	})
	require.Equal(t, wire.TagSavedKey, putReply.Tag)
	assert.Equal(t, key, putReply.Key)

	getReply := clientRequest(t, a.addr, wire.Message{Tag: wire.TagUserGet, Key: key})
	require.Equal(t, wire.TagRequestedFile, getReply.Tag)
	require.NotNil(t, getReply.Blob)
	assert.Equal(t, "prova2.txt", getReply.Blob.Name)
	assert.Equal(t, []byte("hello world"), getReply.Blob.Buffer)
}

func TestGetUnknownKeyOnSingleton(t *testing.T) {
	a := startTestNode(t)
	reply := clientRequest(t, a.addr, wire.Message{Tag: wire.TagUserGet, Key: ring.HashKey("never-put.bin").String()})
	assert.Equal(t, wire.TagFileNotFound, reply.Tag)
}

func TestGetInvalidHexKey(t *testing.T) {
	a := startTestNode(t)
	reply := clientRequest(t, a.addr, wire.Message{Tag: wire.TagUserGet, Key: "not-a-valid-hex-key"})
	assert.Equal(t, wire.TagHexConversionInvalid, reply.Tag)
}

func TestTwoNodeJoinConverges(t *testing.T) {
	a := startTestNode(t)
	b := startTestNode(t)

	require.NoError(t, b.node.Bootstrap(context.Background(), a.addr))

	waitFor(t, 5*time.Second, func() bool {
		return a.node.Successor().Addr == b.addr && a.node.Predecessor().Addr == b.addr
	})
	waitFor(t, 5*time.Second, func() bool {
		return b.node.Successor().Addr == a.addr && b.node.Predecessor().Addr == a.addr
	})

	// With exactly two nodes each is the other's sole neighbor both
	// ways, regardless of which address happens to hash closer to
	// which identifier.
	assert.Equal(t, a.addr, b.node.Successor().Addr)
	assert.Equal(t, a.addr, b.node.Predecessor().Addr)
	assert.Equal(t, b.addr, a.node.Successor().Addr)
	assert.Equal(t, b.addr, a.node.Predecessor().Addr)
}

func TestMigrationOnJoinMovesOwnedBlobs(t *testing.T) {
	a := startTestNode(t)

	key := ring.HashKey("migrate-me.bin")
	putReply := clientRequest(t, a.addr, wire.Message{
		Tag:  wire.TagUserPut,
		Blob: &wire.Blob{Name: "migrate-me.bin", Buffer: []byte("payload")},
	})
	require.Equal(t, wire.TagSavedKey, putReply.Tag)

	b := startTestNode(t)
	require.NoError(t, b.node.Bootstrap(context.Background(), a.addr))

	waitFor(t, 5*time.Second, func() bool {
		return a.node.Successor().Addr == b.addr && b.node.Predecessor().Addr == a.addr
	})

	var owner, other *testNode
	if b.node.Owns(key) {
		owner, other = b, a
	} else {
		owner, other = a, b
	}

	waitFor(t, 5*time.Second, func() bool {
		return owner.node.hasSaved(key.String())
	})
	assert.False(t, other.node.hasSaved(key.String()), "the vacated range's blob must not remain on the former owner")

	// Query the owner directly: this test is about the migration
	// invariant, not cross-node forwarding or finger-table
	// convergence timing.
	getReply := clientRequest(t, owner.addr, wire.Message{Tag: wire.TagUserGet, Key: key.String()})
	require.Equal(t, wire.TagRequestedFile, getReply.Tag)
	assert.Equal(t, []byte("payload"), getReply.Blob.Buffer)
}

func TestSuccessorFailoverPromotesCachedCandidate(t *testing.T) {
	a := startTestNode(t)
	// Directly install a synthetic dead successor and a fail-over
	// candidate pointing at a real, live node, exercising the same
	// checkSuccessorLiveness path a genuine crash would trigger without
	// depending on real SHA-256 ordering across three live nodes.
	candidate := startTestNode(t)

	deadSucc := ring.NewPeer("127.0.0.1:1") // never listening, stands in for a crashed peer
	a.node.setSuccessor(deadSucc)
	a.node.succCache.Push(ring.NewPeer(candidate.addr))
	a.node.lastModified = time.Now().Add(-time.Hour)

	a.node.checkSuccessorLiveness()

	assert.Equal(t, candidate.addr, a.node.Successor().Addr)
	assert.Equal(t, StateDead, a.node.PeerStates()[deadSucc.Addr])
}
