package nostr

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/teranos/hypermark/errors"
)

// Sign sets pubkey, id and sig on ev using priv. The id is recomputed from
// the current fields, so any pre-existing id or sig is overwritten.
func Sign(ev *Event, priv *btcec.PrivateKey) error {
	if priv == nil {
		return errors.New("nil private key")
	}
	if ev.Tags == nil {
		ev.Tags = Tags{}
	}

	ev.PubKey = hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
	ev.ID = ComputeID(ev)

	idBytes, err := hex.DecodeString(ev.ID)
	if err != nil {
		return errors.Wrap(err, "failed to decode computed id")
	}

	sig, err := schnorr.Sign(priv, idBytes)
	if err != nil {
		return errors.Wrapf(err, "failed to sign event %s", ev.ID)
	}
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify reports whether ev's id matches its fields and its sig is a valid
// BIP-340 signature over that id by pubkey. Malformed input yields false.
func Verify(ev *Event) bool {
	if ev == nil || len(ev.ID) != 64 || len(ev.PubKey) != 64 || len(ev.Sig) != 128 {
		return false
	}

	// id binds content: a mismatch fails before any curve math
	if ComputeID(ev) != ev.ID {
		return false
	}

	idBytes, err := hex.DecodeString(ev.ID)
	if err != nil {
		return false
	}
	pubBytes, err := hex.DecodeString(ev.PubKey)
	if err != nil {
		return false
	}
	sigBytes, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return false
	}

	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	return sig.Verify(idBytes, pub)
}
