package dht

import (
	"chordkv/internal/ring"
	"chordkv/internal/transport"
	"chordkv/internal/wire"
)

// stabilizeTick runs one round of spec §4.6's successor-liveness
// check and finger-table refresh. Heartbeat (tick item 2 in the
// spec's numbering) runs on its own separate, shorter timer, see
// heartbeatTick, matching "heartbeats run on their own shorter,
// fixed period" and retorded-inf-3200's split between
// Stabilize/FixFinger and CheckPredecessor as distinct calls off one
// ticker.
func (n *Node) stabilizeTick(nextFingerIndex *int) {
	n.checkSuccessorLiveness()
	n.refreshNextFinger(nextFingerIndex)
}

// checkSuccessorLiveness promotes the head of the successor cache
// when the current successor has gone quiet past the heartbeat
// timeout (spec §4.6 tick 1), grounded on retorded-inf-3200's
// removeFailedFinger/closestSuccessorNodes fail-over pairing in its
// internal/dht/node.go, generalized to the spec's explicit bounded
// successors_cache rather than a linear rescan of the whole table.
func (n *Node) checkSuccessorLiveness() {
	if n.lastModifiedAge() <= n.cfg.HeartbeatTimeout {
		return
	}
	deadSucc := n.Successor().Addr
	n.peers.markSuspect(deadSucc)

	n.mu.Lock()
	candidate, ok := n.succCache.PopFront()
	n.mu.Unlock()
	if !ok {
		return
	}
	n.peers.markDead(deadSucc)
	n.setSuccessor(candidate)
	n.resetStabilizeBackoff()
	// Treat the promotion itself as fresh contact so the new
	// successor gets a full timeout window before being judged dead
	// in turn.
	n.touchLastModified()
	n.enqueueSend(candidate.Addr, transport.Stream, wire.Message{Tag: wire.TagNotifySuccessor, Addr: n.self.Addr})
}

// refreshNextFinger advances one round-robin step through the finger
// table per tick (spec §4.6 tick 3), grounded on retorded-inf-3200's
// FixFinger(index)/nextFingerIndex pairing rather than refreshing all
// M entries in a single tick, which would flood the network on every
// stabilization round for a large M.
func (n *Node) refreshNextFinger(nextFingerIndex *int) {
	if n.finger.Len() == 0 {
		return
	}
	i := *nextFingerIndex
	*nextFingerIndex = (i + 1) % n.finger.Len()

	target := n.finger.Target(i)
	f := n.ClosestPreceding(target)
	if f.Addr == n.self.Addr {
		return // nothing known yet that is closer than self
	}
	n.enqueueSend(f.Addr, transport.Stream, wire.Message{
		Tag:           wire.TagFind,
		TargetID:      target[:],
		RequesterAddr: n.self.Addr,
	})
}

// heartbeatTick sends a liveness pulse to the predecessor over the
// datagram transport (spec §4.6 tick 2), on its own fixed period
// independent of stabilization backoff.
func (n *Node) heartbeatTick() {
	pred := n.Predecessor()
	if pred.IsZero() {
		return
	}
	n.enqueueSend(pred.Addr, transport.Datagram, wire.Message{
		Tag:   wire.TagHeartBeat,
		Addr:  n.self.Addr,
		Addr2: n.Successor().Addr,
	})
}

// handleHeartBeat is received by the predecessor of the sender (a
// node heartbeats toward its own predecessor): it refreshes
// last_modified, drops the sender from the successor cache since its
// liveness was just confirmed directly (the Open Question decision in
// DESIGN.md), and opportunistically learns the sender's own successor
// as a fail-over candidate.
func (n *Node) handleHeartBeat(msg wire.Message) {
	sender := ring.NewPeer(msg.Addr)
	if sender.IsZero() {
		return
	}
	n.touchLastModified()

	n.mu.Lock()
	n.succCache.Drop(sender.Addr)
	if msg.Addr2 != "" {
		n.succCache.Push(ring.NewPeer(msg.Addr2))
	}
	n.mu.Unlock()
}
