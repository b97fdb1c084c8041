package ring

import "sort"

// FingerEntry is one row of the finger table: the target identifier
// this entry is meant to cover, and the peer currently believed to be
// that target's successor. Position 0's target is self+2^0, i.e. the
// immediate successor.
type FingerEntry struct {
	Target ID
	Peer   Peer
}

// FingerTable is the ordered routing table described in spec §3. Its
// entries are stored in slot order (slot i aims at self+2^i); each
// ClosestPreceding call builds a copy sorted by the hashed identifier
// of each entry's peer and binary searches that copy, so lookups see
// the table in increasing identifier order (invariant 1).
//
// Grounded on _examples/retorded-inf-3200's internal/dht/node.go
// ([]fingerEntry, closestPrecedingNode's reverse linear scan),
// generalized to the spec's required binary search over a 256-bit
// space where M can be large enough that a linear scan is wasteful.
type FingerTable struct {
	entries []FingerEntry // slot order; see sortedView for the Peer.ID order
}

// NewFingerTable builds an M-entry table with every target computed
// from selfID and every entry initially pointing at self (the state a
// freshly created singleton node starts in).
func NewFingerTable(selfID ID, self Peer, m int) *FingerTable {
	entries := make([]FingerEntry, m)
	for i := 0; i < m; i++ {
		entries[i] = FingerEntry{Target: AddPow2(selfID, i), Peer: self}
	}
	return &FingerTable{entries: entries}
}

// Len returns the number of finger slots (M).
func (ft *FingerTable) Len() int { return len(ft.entries) }

// Target returns the target identifier for slot i.
func (ft *FingerTable) Target(i int) ID { return ft.entries[i].Target }

// At returns the peer currently installed at slot i.
func (ft *FingerTable) At(i int) Peer { return ft.entries[i].Peer }

// Successor is finger slot 0, the node's immediate successor.
func (ft *FingerTable) Successor() Peer {
	if len(ft.entries) == 0 {
		return Peer{}
	}
	return ft.entries[0].Peer
}

// SetSuccessor installs p at slot 0.
func (ft *FingerTable) SetSuccessor(p Peer) {
	if len(ft.entries) > 0 {
		ft.entries[0].Peer = p
	}
}

// Set installs p at slot i. It does not reorder the slots;
// ClosestPreceding sorts a copy of the entries on each lookup.
func (ft *FingerTable) Set(i int, p Peer) {
	ft.entries[i].Peer = p
}

// sortedView returns the entries sorted by Peer.ID ascending; called
// fresh on each lookup rather than maintained incrementally, since
// M is small enough (≤256) that re-sorting on every Find is cheap and
// avoids subtle incremental-resort bugs.
func (ft *FingerTable) sortedView() []FingerEntry {
	view := make([]FingerEntry, len(ft.entries))
	copy(view, ft.entries)
	sort.Slice(view, func(i, j int) bool {
		return view[i].Peer.ID.Less(view[j].Peer.ID)
	})
	return view
}

// ClosestPreceding returns the finger whose hashed id is the largest
// one ≤ target, via binary search over the sorted hashed entries
// (spec §4.4: "The binary search interprets the hashed entries of the
// finger table as unsigned 256-bit integers and returns the index of
// the largest entry ≤ target; if the target is smaller than every
// entry, the last index is returned (wrap-around preceding finger)").
func (ft *FingerTable) ClosestPreceding(target ID) Peer {
	view := ft.sortedView()
	if len(view) == 0 {
		return Peer{}
	}
	// sort.Search finds the first index whose entry is > target.
	idx := sort.Search(len(view), func(i int) bool {
		return target.Less(view[i].Peer.ID)
	})
	if idx == 0 {
		// every entry is > target: wrap around, return the largest.
		return view[len(view)-1].Peer
	}
	return view[idx-1].Peer
}

// Integrate folds a NotifyPresence announcement into the table (spec
// §4.5: "integrates any NotifyPresence reply by inserting the
// announced peer at the correct sorted position in its finger table,
// de-duplicating if already present"). For every slot whose target p
// could now own (p succeeds the target, i.e. the target lies in
// (selfID, p.ID]): p replaces the current entry if it is a strictly
// closer successor than what's installed, or if the slot still holds
// the self-pointing default.
func (ft *FingerTable) Integrate(selfID ID, p Peer) {
	for i := range ft.entries {
		target := ft.entries[i].Target
		cur := ft.entries[i].Peer
		if cur.Equal(p) {
			continue
		}
		if !InRightInclusive(target, selfID, p.ID) {
			continue // p doesn't reach this slot's target
		}
		if cur.ID.Equal(selfID) || InOpen(p.ID, selfID, cur.ID) {
			ft.entries[i].Peer = p
		}
	}
}

// Snapshot returns a defensive copy of every installed peer,
// deduplicated, in slot order. Used for debug/inspection and for
// KnownPeers (SPEC_FULL §4.11).
func (ft *FingerTable) Snapshot() []Peer {
	seen := make(map[string]bool, len(ft.entries))
	out := make([]Peer, 0, len(ft.entries))
	for _, e := range ft.entries {
		if e.Peer.IsZero() || seen[e.Peer.Addr] {
			continue
		}
		seen[e.Peer.Addr] = true
		out = append(out, e.Peer)
	}
	return out
}
