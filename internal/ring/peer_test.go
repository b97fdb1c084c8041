package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPeerZeroAddr(t *testing.T) {
	assert.True(t, NewPeer("").IsZero())
	assert.False(t, NewPeer("a:1").IsZero())
}

func TestPeerEqualByAddr(t *testing.T) {
	a := NewPeer("a:1")
	b := NewPeer("a:1")
	c := NewPeer("b:1")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
