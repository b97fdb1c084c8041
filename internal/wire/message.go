// Package wire implements the peer protocol's tagged-union Message
// and its length-delimited binary encoding (spec §4.1, §6).
//
// Grounded on the moby-moby-vendored hashicorp/memberlist example in
// _examples/other_examples (.../moby-moby__vendor-...-memberlist-state.go.go);
// that file's companion go.mod (other_examples/manifests/moby-moby/go.mod)
// requires github.com/hashicorp/go-msgpack, which this package uses
// for the "canonical binary encoding of the union" spec.md leaves
// unspecified beyond "every peer must agree".
package wire

// Tag discriminates the Message union's variants (spec §4.1).
type Tag uint8

const (
	TagJoin Tag = iota
	TagForwardJoin
	TagAddSuccessor
	TagAddPredecessor
	TagNotifySuccessor
	TagNotifyPredecessor
	TagFind
	TagNotifyPresence
	TagHeartBeat
	TagMoveFile
	TagUserPut
	TagUserGet
	TagForwardedPut
	TagForwardedGet
	TagSavedKey
	TagRequestedFile
	TagForwarderTo
	TagFileNotFound
	TagHexConversionInvalid
	TagInternalServerError
)

func (t Tag) String() string {
	switch t {
	case TagJoin:
		return "Join"
	case TagForwardJoin:
		return "ForwardJoin"
	case TagAddSuccessor:
		return "AddSuccessor"
	case TagAddPredecessor:
		return "AddPredecessor"
	case TagNotifySuccessor:
		return "NotifySuccessor"
	case TagNotifyPredecessor:
		return "NotifyPredecessor"
	case TagFind:
		return "Find"
	case TagNotifyPresence:
		return "NotifyPresence"
	case TagHeartBeat:
		return "HeartBeat"
	case TagMoveFile:
		return "MoveFile"
	case TagUserPut:
		return "UserPut"
	case TagUserGet:
		return "UserGet"
	case TagForwardedPut:
		return "ForwardedPut"
	case TagForwardedGet:
		return "ForwardedGet"
	case TagSavedKey:
		return "SavedKey"
	case TagRequestedFile:
		return "RequestedFile"
	case TagForwarderTo:
		return "ForwarderTo"
	case TagFileNotFound:
		return "FileNotFound"
	case TagHexConversionInvalid:
		return "HexConversionInvalid"
	case TagInternalServerError:
		return "InternalServerError"
	default:
		return "Unknown"
	}
}

// Blob is the file-like payload clients Put/Get (spec §3, §6).
type Blob struct {
	Name   string `codec:"name"`
	Buffer []byte `codec:"buffer"`
}

// Message is the single tagged union carried by both the peer
// protocol and client replies. Only the fields relevant to Tag are
// populated; see the per-field comments for which variant uses what.
// A flat struct (rather than a Go interface per variant) is the
// idiomatic encoding for a msgpack-based tagged union: one map, one
// discriminant field, cheap to route on before decoding the rest.
type Message struct {
	Tag Tag `codec:"tag"`

	// RequestID correlates a request with its eventual reply across
	// hops, for log correlation (SPEC_FULL §2.1); not part of the
	// routing logic itself.
	RequestID string `codec:"id,omitempty"`

	// Addr is the primary address argument: the joining peer for
	// Join, the peer to retry Join against for ForwardJoin, the
	// forwarding target for ForwarderTo, the installed peer for AddSuccessor/
	// AddPredecessor/NotifySuccessor/NotifyPredecessor/NotifyPresence,
	// the sender for HeartBeat.
	Addr string `codec:"addr,omitempty"`

	// Addr2 is a second address argument, used only by HeartBeat to
	// carry the sender's own successor address alongside its own.
	Addr2 string `codec:"addr2,omitempty"`

	// RequesterAddr is Find's requester_addr: where NotifyPresence
	// replies should be sent.
	RequesterAddr string `codec:"requester,omitempty"`

	// TargetID is Find's target_id, 32 bytes big-endian.
	TargetID []byte `codec:"target,omitempty"`

	// Key is the hex blob key for Get/ForwardedGet/SavedKey/
	// FileNotFound/HexConversionInvalid.
	Key string `codec:"key,omitempty"`

	// Blob carries the file payload for Put/ForwardedPut/MoveFile/
	// RequestedFile.
	Blob *Blob `codec:"blob,omitempty"`

	// ReplyAddr is the client's listening address for UserPut/UserGet/
	// ForwardedPut/ForwardedGet.
	ReplyAddr string `codec:"reply,omitempty"`
}
