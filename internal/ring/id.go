// Package ring implements the 256-bit Chord identifier space: hashing,
// unsigned comparison, modular arc arithmetic, and the sorted finger
// table used for closest-preceding-finger lookups.
package ring

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
)

// IDLength is the width of the identifier space in bytes (256 bits).
const IDLength = 32

// ID is a point on the ring: SHA-256 of a peer address or a blob name,
// compared as an unsigned big-endian integer.
type ID [IDLength]byte

// HashID returns the ring identifier for s, defined as SHA-256 of the
// UTF-8 bytes of s.
func HashID(s string) ID {
	var id ID
	sum := sha256.Sum256([]byte(s))
	copy(id[:], sum[:])
	return id
}

// HashKey is HashID under the name spec.md uses for blob keys; it is
// the same hash, just called out separately at call sites that hash a
// blob name rather than a peer address.
func HashKey(name string) ID {
	return HashID(name)
}

// Cmp returns -1, 0 or 1 as a is less than, equal to, or greater than
// b, comparing the 32-byte big-endian digests as unsigned integers.
func (a ID) Cmp(b ID) int {
	return bytes.Compare(a[:], b[:])
}

// Less reports whether a precedes b on the ring without wrapping,
// i.e. pure unsigned integer comparison.
func (a ID) Less(b ID) bool {
	return a.Cmp(b) < 0
}

// Equal reports whether a and b are the same identifier.
func (a ID) Equal(b ID) bool {
	return a == b
}

// IsZero reports whether id is the zero value, used as the sentinel
// for "no identifier" (e.g. an unset predecessor).
func (a ID) IsZero() bool {
	return a == ID{}
}

// String renders the identifier as lowercase hex, the same encoding
// used for blob keys on the wire and on disk.
func (a ID) String() string {
	return hex.EncodeToString(a[:])
}

// ParseID decodes a lowercase hex key into an ID. It is the inverse of
// String and is used to validate client-supplied Get keys (spec §4.7,
// HexConversionInvalid).
func ParseID(s string) (ID, bool) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != IDLength {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

// bigFromID / idFromBig round-trip an ID through math/big so modular
// arithmetic (AddPow2) can reuse big.Int's Add/Mod instead of hand
// rolling 256-bit carry logic.
func bigFromID(id ID) *big.Int {
	return new(big.Int).SetBytes(id[:])
}

var ringModulus = new(big.Int).Lsh(big.NewInt(1), 8*IDLength) // 2^256

func idFromBig(v *big.Int) ID {
	var id ID
	b := v.Bytes()
	if len(b) > IDLength {
		b = b[len(b)-IDLength:]
	}
	copy(id[IDLength-len(b):], b)
	return id
}

// AddPow2 returns id + 2^i mod 2^256, the target identifier for finger
// table entry i (spec §3, finger_table definition).
func AddPow2(id ID, i int) ID {
	offset := new(big.Int).Lsh(big.NewInt(1), uint(i))
	sum := new(big.Int).Add(bigFromID(id), offset)
	sum.Mod(sum, ringModulus)
	return idFromBig(sum)
}
