package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccessorCachePushMostRecentFirst(t *testing.T) {
	c := NewSuccessorCache(5)
	c.Push(NewPeer("a:1"))
	c.Push(NewPeer("b:1"))

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "b:1", snap[0].Addr)
	assert.Equal(t, "a:1", snap[1].Addr)
}

func TestSuccessorCachePushDedupesAndMovesToFront(t *testing.T) {
	c := NewSuccessorCache(5)
	c.Push(NewPeer("a:1"))
	c.Push(NewPeer("b:1"))
	c.Push(NewPeer("a:1"))

	snap := c.Snapshot()
	require.Len(t, snap, 2, "re-pushing an existing member must not grow the cache")
	assert.Equal(t, "a:1", snap[0].Addr)
}

func TestSuccessorCacheRespectsBound(t *testing.T) {
	c := NewSuccessorCache(2)
	c.Push(NewPeer("a:1"))
	c.Push(NewPeer("b:1"))
	c.Push(NewPeer("c:1"))

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "c:1", snap[0].Addr)
	assert.Equal(t, "b:1", snap[1].Addr)
}

func TestSuccessorCachePopFront(t *testing.T) {
	c := NewSuccessorCache(5)
	_, ok := c.PopFront()
	assert.False(t, ok, "empty cache has nothing to promote")

	c.Push(NewPeer("a:1"))
	c.Push(NewPeer("b:1"))

	head, ok := c.PopFront()
	require.True(t, ok)
	assert.Equal(t, "b:1", head.Addr)
	assert.Len(t, c.Snapshot(), 1)
}

func TestSuccessorCacheDrop(t *testing.T) {
	c := NewSuccessorCache(5)
	c.Push(NewPeer("a:1"))
	c.Push(NewPeer("b:1"))
	c.Drop("a:1")

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "b:1", snap[0].Addr)
}

func TestSuccessorCachePushIgnoresZeroPeer(t *testing.T) {
	c := NewSuccessorCache(5)
	c.Push(Peer{})
	assert.Empty(t, c.Snapshot())
}
