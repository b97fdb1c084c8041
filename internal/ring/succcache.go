package ring

// SuccessorCache is the short bounded list of additional known
// successors used for fail-over when the immediate successor dies
// (spec §3, §4.6). Per DESIGN.md's Open Question decision, the cache
// receives the previous position-0 successor when a join replaces it
// and the sender's own successor from each received heartbeat, and is
// pruned of an entry the moment a heartbeat from that peer (the
// current successor) confirms its liveness.
type SuccessorCache struct {
	bound   int
	members []Peer // most-recently-known-good first
}

// NewSuccessorCache creates a cache bounded at n entries (spec
// default: 5).
func NewSuccessorCache(n int) *SuccessorCache {
	return &SuccessorCache{bound: n}
}

// Push adds p to the front of the cache, dropping any existing copy
// and truncating to the bound.
func (c *SuccessorCache) Push(p Peer) {
	if p.IsZero() {
		return
	}
	filtered := c.members[:0]
	for _, m := range c.members {
		if m.Addr != p.Addr {
			filtered = append(filtered, m)
		}
	}
	c.members = append([]Peer{p}, filtered...)
	if len(c.members) > c.bound {
		c.members = c.members[:c.bound]
	}
}

// PopFront removes and returns the head of the cache (the promotion
// candidate when the current successor is declared dead), along with
// whether the cache was non-empty.
func (c *SuccessorCache) PopFront() (Peer, bool) {
	if len(c.members) == 0 {
		return Peer{}, false
	}
	head := c.members[0]
	c.members = c.members[1:]
	return head, true
}

// Drop removes addr from the cache if present, used when
// stabilization confirms addr (the current successor) is alive so it
// no longer needs a fail-over entry duplicating it.
func (c *SuccessorCache) Drop(addr string) {
	filtered := c.members[:0]
	for _, m := range c.members {
		if m.Addr != addr {
			filtered = append(filtered, m)
		}
	}
	c.members = filtered
}

// Snapshot returns a defensive copy of the cache contents.
func (c *SuccessorCache) Snapshot() []Peer {
	out := make([]Peer, len(c.members))
	copy(out, c.members)
	return out
}
