// Package crdt adapts an external CRDT document to the sync layer. It never
// interprets operations: it only reads state vectors, computes the update a
// peer is missing, and transports updates into the document.
package crdt

import (
	"encoding/base64"

	"github.com/teranos/hypermark/errors"
)

// Document is the black-box CRDT the adapter wraps. Implementations own all
// merge semantics; applying an update must be commutative, associative and
// idempotent.
type Document interface {
	// StateVector returns the encoded state vector of the document.
	StateVector() []byte
	// EncodeUpdate returns every operation not covered by since. A nil or
	// empty since yields the full state.
	EncodeUpdate(since []byte) ([]byte, error)
	// ApplyUpdate merges an update produced by EncodeUpdate. origin is
	// passed through to the document's observers.
	ApplyUpdate(update []byte, origin string) error
	// EncodeFullState returns an update carrying the whole history.
	EncodeFullState() ([]byte, error)
}

// OriginRemote tags updates that arrived from relays.
const OriginRemote = "nostr"

// StateVectorOf returns doc's encoded state vector.
func StateVectorOf(doc Document) []byte {
	return doc.StateVector()
}

// Diff returns the minimal update containing the operations a peer at
// since is missing.
func Diff(doc Document, since []byte) ([]byte, error) {
	if _, err := ParseStateVector(since); err != nil {
		return nil, err
	}
	update, err := doc.EncodeUpdate(since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode diff")
	}
	return update, nil
}

// Apply merges update into doc, tagging it with origin.
func Apply(doc Document, update []byte, origin string) error {
	if err := doc.ApplyUpdate(update, origin); err != nil {
		return errors.Wrapf(err, "failed to apply update from %s", origin)
	}
	return nil
}

// FullState returns the complete encoded document.
func FullState(doc Document) ([]byte, error) {
	state, err := doc.EncodeFullState()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode full state")
	}
	return state, nil
}

// FullStateBase64 is FullState in standard base64.
func FullStateBase64(doc Document) (string, error) {
	state, err := FullState(doc)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(state), nil
}
