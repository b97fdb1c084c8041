package ring

// Arc containment tests, all modular (wrap at the ring boundary).
// Modeled on retorded-inf-3200's InIntervalOpen/InIntervalLeftInclusive/
// InIntervalRightInclusive in its internal/dht/helper.go, generalized
// from int ring ids to 256-bit ring.ID.

// InOpen reports whether x lies in the open arc (a, b).
func InOpen(x, a, b ID) bool {
	if a.Less(b) {
		return a.Less(x) && x.Less(b)
	}
	// wrap-around: a >= b, the arc covers the boundary
	return a.Less(x) || x.Less(b)
}

// InLeftInclusive reports whether x lies in [a, b).
func InLeftInclusive(x, a, b ID) bool {
	if a.Less(b) {
		return !x.Less(a) && x.Less(b)
	}
	return !x.Less(a) || x.Less(b)
}

// InRightInclusive reports whether x lies in (a, b]. This is the arc
// test used for key ownership: a node owns key K iff K is in
// (predecessor.id, id].
func InRightInclusive(x, a, b ID) bool {
	if a.Less(b) {
		return a.Less(x) && !b.Less(x)
	}
	return a.Less(x) || !b.Less(x)
}
