package dht

import (
	"chordkv/internal/ring"
	"chordkv/internal/transport"
	"chordkv/internal/wire"
)

// handleFind implements the iterative lookup of spec §4.5: resolve
// locally, forward toward the closest preceding finger, or drop the
// request if it has looped or can make no further progress.
func (n *Node) handleFind(msg wire.Message) {
	if len(msg.TargetID) != ring.IDLength {
		n.log.WithField("len", len(msg.TargetID)).Warn("dropped find with malformed target")
		return
	}
	var target ring.ID
	copy(target[:], msg.TargetID)

	if target.Equal(n.self.ID) {
		n.enqueueSend(msg.RequesterAddr, transport.Stream, wire.Message{
			Tag:  wire.TagNotifyPresence,
			Addr: n.self.Addr,
		})
		return
	}

	f := n.ClosestPreceding(target)
	if f.ID.Equal(target) {
		n.enqueueSend(msg.RequesterAddr, transport.Stream, wire.Message{
			Tag:  wire.TagNotifyPresence,
			Addr: f.Addr,
		})
		return
	}

	if n.shouldDropFind(target, f, msg.RequesterAddr) {
		return
	}

	n.enqueueSend(f.Addr, transport.Stream, wire.Message{
		Tag:           wire.TagFind,
		TargetID:      msg.TargetID,
		RequesterAddr: msg.RequesterAddr,
	})
}

// shouldDropFind detects the three "not found / loop" conditions of
// spec §4.5 under which a Find is dropped silently rather than
// forwarded further.
func (n *Node) shouldDropFind(target ring.ID, f ring.Peer, requesterAddr string) bool {
	// (a) the request has wrapped back to its originator.
	if f.Addr == requesterAddr {
		return true
	}
	// (c) degenerate singleton: no finger better than self exists.
	if f.Addr == n.self.Addr {
		return true
	}
	// (b) the target lies outside the arc this node can reach without
	// going backward: id(B) > target with both hash(requester) <
	// target < hash(F) and hash(F) < id(B).
	requester := ring.NewPeer(requesterAddr)
	if n.self.ID.Cmp(target) > 0 &&
		requester.ID.Less(target) && target.Less(f.ID) &&
		f.ID.Less(n.self.ID) {
		return true
	}
	return false
}

// handleNotifyPresence integrates an announced peer into the finger
// table at the correct sorted position (spec §4.5).
func (n *Node) handleNotifyPresence(msg wire.Message) {
	p := ring.NewPeer(msg.Addr)
	if p.IsZero() || p.Addr == n.self.Addr {
		return
	}
	n.mu.Lock()
	n.finger.Integrate(n.self.ID, p)
	n.mu.Unlock()
}
