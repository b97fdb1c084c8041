package dht

import (
	"context"
	"fmt"
	"time"

	"chordkv/internal/ring"
	"chordkv/internal/transport"
	"chordkv/internal/wire"
)

// Bootstrap sends Join(self) to bootstrapAddr and blocks until the
// event loop has handled the first message of the admission pair
// (AddSuccessor or AddPredecessor) or ctx is cancelled; it does not
// wait for the second message of the pair. A Join that lands on the
// wrong peer comes back as ForwardJoin and is retried against the
// suggested address (spec §4.4 case 4); this loop is the client side
// of that retry, since the event loop does not act on ForwardJoin
// itself (handleEvent passes the suggested address to this loop, and
// logs and drops it only when that hand-off channel is full).
//
// This has no analogue in retorded-inf-3200: it builds its whole ring
// up front via SetNetwork rather than a real network Join RPC. The
// retry-on-ForwardJoin shape is grounded on spec.md §4.4 itself and on
// original_source/src/node_state.rs's join handling.
func (n *Node) Bootstrap(ctx context.Context, bootstrapAddr string) error {
	if bootstrapAddr == "" || bootstrapAddr == n.self.Addr {
		return fmt.Errorf("dht: bootstrap address must name a different peer")
	}

	target := bootstrapAddr
	deadline := time.Now().Add(30 * time.Second)
	for attempt := 0; ; attempt++ {
		if time.Now().After(deadline) {
			return fmt.Errorf("dht: join timed out contacting %s", target)
		}
		n.log.WithField("target", target).WithField("attempt", attempt).Info("sending join")
		if err := n.registry.Send(target, transport.Stream, wire.Message{
			Tag:  wire.TagJoin,
			Addr: n.self.Addr,
		}); err != nil {
			n.log.WithError(err).WithField("target", target).Warn("join send failed, retrying bootstrap")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case redirect := <-n.forwardJoinCh():
			target = redirect
		case <-n.joinedCh():
			return nil
		case <-time.After(5 * time.Second):
			// No response yet; re-send Join at the same target.
		}
	}
}

// forwardJoinCh and joinedCh are thin accessors over the signal
// channels a bootstrapping node waits on; handleEvent pushes into
// them from the event loop goroutine while Bootstrap (called from
// outside the event loop, with Run already consuming the inbox)
// waits on them. Both channels are buffered so a send from
// handleEvent never blocks the loop.
func (n *Node) forwardJoinCh() <-chan string { return n.bootstrapForward }
func (n *Node) joinedCh() <-chan struct{}    { return n.bootstrapJoined }

// handleJoin implements the four sub-cases of spec §4.4 at node B
// when peer A sends Join(a). Grounded on spec.md's own description;
// retorded-inf-3200 has no equivalent (its ring is assembled by
// SetNetwork, never by a live Join exchange).
func (n *Node) handleJoin(msg wire.Message) {
	a := ring.NewPeer(msg.Addr)
	if a.IsZero() || a.Addr == n.self.Addr {
		n.log.WithField("addr", msg.Addr).Warn("dropped malformed join")
		return
	}

	pred := n.Predecessor()
	succ := n.Successor()

	switch {
	case pred.IsZero():
		// Case 1: empty finger table, B is a singleton. B owned the
		// whole ring until now, so it ships (B, a] off to A.
		n.setPredecessor(a)
		n.setSuccessor(a)
		n.resetStabilizeBackoff()
		n.enqueueSend(a.Addr, transport.Stream, wire.Message{Tag: wire.TagAddSuccessor, Addr: n.self.Addr})
		n.enqueueSend(a.Addr, transport.Stream, wire.Message{Tag: wire.TagAddPredecessor, Addr: n.self.Addr})
		n.migrateToNewSuccessor(a)

	case ring.InOpen(a.ID, pred.ID, n.self.ID):
		// Case 2: predecessor-side insert. B's own owned arc shrinks
		// from (oldPred, B] to (a, B], so B sheds the vacated range to A.
		oldPred := pred
		n.setPredecessor(a)
		n.resetStabilizeBackoff()
		n.enqueueSend(a.Addr, transport.Stream, wire.Message{Tag: wire.TagAddSuccessor, Addr: n.self.Addr})
		n.enqueueSend(a.Addr, transport.Stream, wire.Message{Tag: wire.TagAddPredecessor, Addr: oldPred.Addr})
		n.migrateAwayFromNewPredecessor(a)

	case ring.InOpen(a.ID, n.self.ID, succ.ID):
		// Case 3: successor-side insert. B's own arc is unaffected
		// here (only its successor changes), so under the ownership
		// invariant migrateToNewSuccessor finds nothing to move; it
		// does real work in case 1, where B held keys beyond its own id.
		oldSucc := succ
		n.succCache.Push(oldSucc)
		n.setSuccessor(a)
		n.resetStabilizeBackoff()
		n.enqueueSend(a.Addr, transport.Stream, wire.Message{Tag: wire.TagAddPredecessor, Addr: n.self.Addr})
		n.enqueueSend(a.Addr, transport.Stream, wire.Message{Tag: wire.TagAddSuccessor, Addr: oldSucc.Addr})
		n.migrateToNewSuccessor(a)

	default:
		// Case 4: forward toward the closest preceding finger.
		f := n.ClosestPreceding(a.ID)
		n.enqueueSend(a.Addr, transport.Stream, wire.Message{Tag: wire.TagForwardJoin, Addr: f.Addr})
	}
}

// handleAddSuccessor installs msg.Addr at finger slot 0, one half of
// the pair a joining node receives from its admitting peer. The new
// successor doesn't yet know it has a new predecessor, so this node
// tells it directly (spec §4.4 case 3's hand-off).
func (n *Node) handleAddSuccessor(msg wire.Message) {
	p := ring.NewPeer(msg.Addr)
	if p.IsZero() {
		return
	}
	n.setSuccessor(p)
	n.resetStabilizeBackoff()
	n.signalJoined()

	if p.Addr != n.self.Addr {
		n.enqueueSend(p.Addr, transport.Stream, wire.Message{Tag: wire.TagNotifySuccessor, Addr: n.self.Addr})
	}
}

// handleAddPredecessor installs msg.Addr as predecessor, the other
// half of the admission pair. When this node was itself the one doing
// the admitting (case 2/3 above already set its own predecessor/
// successor directly), this only fires on the joining peer A.
func (n *Node) handleAddPredecessor(msg wire.Message) {
	p := ring.NewPeer(msg.Addr)
	if p.IsZero() {
		return
	}
	n.setPredecessor(p)
	n.resetStabilizeBackoff()
	n.signalJoined()

	// A has just learned its predecessor P, but P may still believe
	// its own successor is the peer that admitted A (case 2) rather
	// than A itself. Tell P directly so it can fix its successor.
	if p.Addr != n.self.Addr {
		n.enqueueSend(p.Addr, transport.Stream, wire.Message{Tag: wire.TagNotifyPredecessor, Addr: n.self.Addr})
	}
}

// handleNotifySuccessor is received by a node that has just been
// installed as someone's new successor (join case 3, or stabilization
// promoting a successor-cache entry); it fixes the receiver's own
// predecessor if the sender is a closer fit (spec §4.4 case 3, §4.6
// tick 1).
func (n *Node) handleNotifySuccessor(msg wire.Message) {
	sender := ring.NewPeer(msg.Addr)
	if sender.IsZero() || sender.Addr == n.self.Addr {
		return
	}
	pred := n.Predecessor()
	if pred.IsZero() || ring.InOpen(sender.ID, pred.ID, n.self.ID) {
		n.setPredecessor(sender)
		n.resetStabilizeBackoff()
		n.migrateAwayFromNewPredecessor(sender)
	}
}

// handleNotifyPredecessor is received by the old predecessor of a node
// that just admitted a new predecessor-side peer (join case 2): the
// sender tells the receiver "I'm now your successor" so the receiver
// can fix a stale successor pointer. The receiver's own owned arc is
// untouched by this (only its successor changes), so no migration is
// needed here.
func (n *Node) handleNotifyPredecessor(msg wire.Message) {
	sender := ring.NewPeer(msg.Addr)
	if sender.IsZero() || sender.Addr == n.self.Addr {
		return
	}
	succ := n.Successor()
	if succ.Addr == n.self.Addr || ring.InOpen(sender.ID, n.self.ID, succ.ID) {
		n.setSuccessor(sender)
		n.resetStabilizeBackoff()
	}
}

// signalJoined notifies a blocked Bootstrap call that admission
// completed; it is a no-op once Bootstrap has already returned (the
// channel send is best-effort and non-blocking).
func (n *Node) signalJoined() {
	select {
	case n.bootstrapJoined <- struct{}{}:
	default:
	}
}
