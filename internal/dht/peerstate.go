package dht

import (
	"sync"

	"chordkv/internal/wire"
)

// PeerState is the observable lifecycle of a remote peer as seen by
// this node (spec §4.9): Unknown -> Connecting -> Live, and
// Live -> Suspect -> Dead. It exists purely for debug/inspection (the
// routing and blob logic never branches on it); the finger table and
// successor cache are the actual sources of truth for routing.
type PeerState int

const (
	StateUnknown PeerState = iota
	StateConnecting
	StateLive
	StateSuspect
	StateDead
)

func (s PeerState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateSuspect:
		return "suspect"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// peerStates tracks the per-address state machine. It is a small
// separate structure rather than a field on ring.Peer because
// liveness is an observation about an address, independent of whether
// that address currently occupies a finger slot.
type peerStates struct {
	mu     sync.Mutex
	states map[string]PeerState
}

func newPeerStates() *peerStates {
	return &peerStates{states: make(map[string]PeerState)}
}

// markConnecting records a first outbound attempt (spec: "Unknown ->
// Connecting on first outbound use"). It never overwrites a more
// advanced state.
func (p *peerStates) markConnecting(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.states[addr] == StateUnknown {
		p.states[addr] = StateConnecting
	}
}

// markLive records a successful send or an inbound message from addr
// (spec: "Connecting -> Live on first successful send or inbound
// message"). A peer previously marked Suspect recovers to Live too.
func (p *peerStates) markLive(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.states[addr] != StateDead {
		p.states[addr] = StateLive
	}
}

// markSuspect records that addr (expected to be the current
// successor) has gone quiet past the heartbeat timeout (spec: "Live
// -> Suspect when the peer is B's successor and last_modified ages
// beyond the heartbeat timeout").
func (p *peerStates) markSuspect(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.states[addr] == StateLive {
		p.states[addr] = StateSuspect
	}
}

// markDead records a confirmed failure: either the stabilization tick
// that promotes away from a suspect successor, or any transport
// disconnect (spec: "Any state may move directly to Dead on transport
// disconnect").
func (p *peerStates) markDead(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[addr] = StateDead
}

// snapshot returns a defensive copy for the debug/inspection surface.
func (p *peerStates) snapshot() map[string]PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]PeerState, len(p.states))
	for k, v := range p.states {
		out[k] = v
	}
	return out
}

// senderAddrFromTag returns the address field that identifies the
// sender's own identity for the variants where Addr carries that
// meaning (spec §4.1). For variants where Addr instead names a third
// party (AddSuccessor, AddPredecessor, NotifyPresence's announced
// owner, Find's forwarding target, the blob-service messages) it
// returns "", since marking an unrelated
// address Live from those would misattribute liveness.
func senderAddrFromTag(msg wire.Message) string {
	switch msg.Tag {
	case wire.TagJoin, wire.TagNotifySuccessor, wire.TagNotifyPredecessor, wire.TagHeartBeat:
		return msg.Addr
	default:
		return ""
	}
}

// PeerStates returns a snapshot of every peer address this node has
// ever observed, keyed by its current lifecycle state (SPEC_FULL
// §4.11 debug surface).
func (n *Node) PeerStates() map[string]PeerState {
	return n.peers.snapshot()
}
