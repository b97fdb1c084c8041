package dht

import (
	"github.com/pkg/errors"

	"chordkv/internal/ring"
	"chordkv/internal/transport"
	"chordkv/internal/wire"
)

// saveBlob persists a blob locally and records it in savedFiles,
// grounded on spec §4.8's append-only index + one-file-per-blob
// layout (internal/storage.Index). A disk failure is wrapped as
// ErrStoringFile, the taxonomy spec §7 says a client may observe.
func (n *Node) saveBlob(key, name string, buf []byte) error {
	if n.store != nil {
		if err := n.store.Save(key, name, buf); err != nil {
			return errors.Wrap(ErrStoringFile, err.Error())
		}
	}
	n.savedFiles[key] = name
	return nil
}

func (n *Node) hasSaved(key string) bool {
	_, ok := n.savedFiles[key]
	return ok
}

// loadBlob reads a blob back from disk, wrapping any failure as
// ErrRetrievingFile (spec §7).
func (n *Node) loadBlob(key string) (string, []byte, error) {
	if n.store == nil {
		return n.savedFiles[key], nil, nil
	}
	name, buf, err := n.store.Read(key)
	if err != nil {
		return "", nil, errors.Wrap(ErrRetrievingFile, err.Error())
	}
	return name, buf, nil
}

// transferBlob sends key as a MoveFile to dest and removes the local
// copy once the send has been enqueued, never before (spec §4.7:
// "Transferred blobs are deleted locally only after the send is
// enqueued; the registry will retry the send on backpressure").
func (n *Node) transferBlob(key string, dest ring.Peer) {
	name, buf, err := n.loadBlob(key)
	if err != nil {
		n.log.WithError(err).WithField("key", key).Warn("migration read failed, blob left in place")
		return
	}
	n.enqueueSend(dest.Addr, transport.Stream, wire.Message{
		Tag:  wire.TagMoveFile,
		Blob: &wire.Blob{Name: name, Buffer: buf},
	})
	delete(n.savedFiles, key)
	if n.store != nil {
		if err := n.store.Delete(key); err != nil {
			n.log.WithError(err).WithField("key", key).Warn("migration cleanup failed")
		}
	}
}

// migrateAwayFromNewPredecessor ships off every locally held blob
// that no longer falls in (newPred, self] now that newPred has been
// installed as predecessor, i.e. the vacated range a shrinking owned
// arc sheds to the node now covering it (spec §4.7, triggered by join
// case 2 and by handleNotifySuccessor's stabilization analogue).
func (n *Node) migrateAwayFromNewPredecessor(newPred ring.Peer) {
	for key := range n.savedFiles {
		kid, ok := ring.ParseID(key)
		if !ok {
			continue
		}
		if ring.InRightInclusive(kid, newPred.ID, n.self.ID) {
			continue // still ours under the new arc
		}
		n.transferBlob(key, newPred)
	}
}

// migrateToNewSuccessor ships off every locally held blob that falls
// in (self, newSucc], the range a newly inserted successor now owns
// (join cases 1 and 3, spec §4.4). Under the ownership invariant this is a no-op
// for any node with a non-zero predecessor, since such a node never
// holds keys past its own id; it only does real work for a node that
// was, until this join, the sole owner of the entire ring.
func (n *Node) migrateToNewSuccessor(newSucc ring.Peer) {
	for key := range n.savedFiles {
		kid, ok := ring.ParseID(key)
		if !ok {
			continue
		}
		if !ring.InRightInclusive(kid, n.self.ID, newSucc.ID) {
			continue
		}
		n.transferBlob(key, newSucc)
	}
}

// handleMoveFile accepts a blob offered by a departing owner and
// saves it locally (spec §4.7: "offered by the former owner to a
// newly admitted successor whose arc now includes the blob").
func (n *Node) handleMoveFile(msg wire.Message) {
	if msg.Blob == nil {
		return
	}
	key := ring.HashKey(msg.Blob.Name).String()
	if err := n.saveBlob(key, msg.Blob.Name, msg.Blob.Buffer); err != nil {
		n.log.WithError(err).WithField("key", key).Error("failed to accept moved blob")
	}
}

// replyTo sends a Message to a client's reply listener, or drops it
// silently if no address was given (e.g. a forwarded request whose
// own client-facing reply already went out as ForwarderTo).
func (n *Node) replyTo(addr string, msg wire.Message) {
	if addr == "" {
		return
	}
	n.enqueueSend(addr, transport.Stream, msg)
}

// errorToMessage maps the spec §7 error taxonomy onto its wire reply
// tag. Every branch of handlePut/handleGet that can fail locally
// produces one of these sentinels (wrapped with disk-error context
// where relevant) rather than building a wire.Message inline, so the
// taxonomy in errors.go is the single place that tag gets decided.
func errorToMessage(err error, key string) wire.Message {
	switch {
	case errors.Is(err, ErrHexConversion):
		return wire.Message{Tag: wire.TagHexConversionInvalid, Key: key}
	case errors.Is(err, ErrNotFound):
		return wire.Message{Tag: wire.TagFileNotFound, Key: key}
	default:
		// ErrStoringFile, ErrRetrievingFile, and anything unexpected
		// are all internal failures from the client's point of view
		// (spec §7: "Ownership errors ... are converted to forwarding
		// and never surfaced"; these are the ones that are surfaced).
		return wire.Message{Tag: wire.TagInternalServerError}
	}
}

// handlePut implements spec §4.7's Put: store locally if this node
// owns the key, else forward and tell the client where. requestID is
// carried through unchanged for log correlation across hops (SPEC_FULL
// §2.1); it plays no part in routing.
func (n *Node) handlePut(blob *wire.Blob, replyAddr, requestID string) {
	if blob == nil {
		return
	}
	k := ring.HashKey(blob.Name)
	log := n.log.WithField("request_id", requestID)
	if n.Owns(k) {
		if err := n.saveBlob(k.String(), blob.Name, blob.Buffer); err != nil {
			log.WithError(err).WithField("name", blob.Name).Error("put failed")
			n.replyTo(replyAddr, errorToMessage(err, k.String()))
			return
		}
		log.WithField("key", k.String()).Debug("put stored locally")
		n.replyTo(replyAddr, wire.Message{Tag: wire.TagSavedKey, Key: k.String()})
		return
	}

	f := n.ClosestPreceding(k)
	log.WithField("key", k.String()).WithField("to", f.Addr).Debug("put forwarded")
	n.enqueueSend(f.Addr, transport.Stream, wire.Message{
		Tag:       wire.TagForwardedPut,
		RequestID: requestID,
		ReplyAddr: replyAddr,
		Blob:      blob,
	})
	n.replyTo(replyAddr, wire.Message{Tag: wire.TagForwarderTo, Addr: f.Addr})
}

// handleGet implements spec §4.7's Get: validate the hex key, answer
// locally if owned, else forward. requestID is carried through
// unchanged for log correlation across hops.
func (n *Node) handleGet(key, replyAddr, requestID string) {
	log := n.log.WithField("request_id", requestID)
	kid, ok := ring.ParseID(key)
	if !ok {
		n.replyTo(replyAddr, errorToMessage(ErrHexConversion, key))
		return
	}

	if n.Owns(kid) {
		if !n.hasSaved(key) {
			n.replyTo(replyAddr, errorToMessage(ErrNotFound, key))
			return
		}
		name, buf, err := n.loadBlob(key)
		if err != nil {
			log.WithError(err).WithField("key", key).Error("get failed")
			n.replyTo(replyAddr, errorToMessage(err, key))
			return
		}
		log.WithField("key", key).Debug("get served locally")
		n.replyTo(replyAddr, wire.Message{Tag: wire.TagRequestedFile, Blob: &wire.Blob{Name: name, Buffer: buf}})
		return
	}

	f := n.ClosestPreceding(kid)
	log.WithField("key", key).WithField("to", f.Addr).Debug("get forwarded")
	n.enqueueSend(f.Addr, transport.Stream, wire.Message{
		Tag:       wire.TagForwardedGet,
		RequestID: requestID,
		ReplyAddr: replyAddr,
		Key:       key,
	})
	n.replyTo(replyAddr, wire.Message{Tag: wire.TagForwarderTo, Addr: f.Addr})
}
