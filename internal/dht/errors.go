package dht

import "github.com/pkg/errors"

// Client-visible error taxonomy (spec §7). These are the only errors
// that ever reach a client reply; everything else (malformed frames,
// transient send backpressure, ownership mismatches) is handled
// internally and never surfaces as one of these.
var (
	// ErrStoringFile means a local write failed for a key this node
	// owns (spec: ErrorStoringFile).
	ErrStoringFile = errors.New("dht: error storing file")

	// ErrRetrievingFile means a local read failed for a key this node
	// owns and has indexed (spec: ErrorRetrievingFile).
	ErrRetrievingFile = errors.New("dht: error retrieving file")

	// ErrNotFound means this node owns the key but has no saved blob
	// for it (spec: NotFound).
	ErrNotFound = errors.New("dht: key not found")

	// ErrHexConversion means a client-supplied key string failed to
	// decode as 32 bytes of hex (spec: HexConversion).
	ErrHexConversion = errors.New("dht: invalid hex key")
)
