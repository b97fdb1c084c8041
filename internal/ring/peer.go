package ring

// Peer is a network address, comparable by identifier via hashing.
// Peers are never held as pointers between nodes (spec §9: "Cyclic
// peer references", avoiding owned pointers in favor of plain addresses);
// the connection registry in internal/transport maps Addr to a live
// endpoint.
type Peer struct {
	ID   ID
	Addr string
}

// NewPeer hashes addr and returns the corresponding Peer.
func NewPeer(addr string) Peer {
	if addr == "" {
		return Peer{}
	}
	return Peer{ID: HashID(addr), Addr: addr}
}

// IsZero reports whether p is the unset peer (empty address).
func (p Peer) IsZero() bool {
	return p.Addr == ""
}

// Equal compares peers by address, which is sufficient since Addr
// deterministically maps to ID.
func (p Peer) Equal(o Peer) bool {
	return p.Addr == o.Addr
}
