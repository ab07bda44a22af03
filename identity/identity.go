// Package identity derives the device-independent Nostr keypair from the
// shared symmetric secret. Every device holding the same secret must derive
// the same keypair bit-for-bit; that is what lets devices recognise each
// other's events on untrusted relays.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"golang.org/x/crypto/hkdf"

	"github.com/teranos/hypermark/errors"
)

// Domain separation for the keypair seed. Other subsystems deriving keys
// from the same secret must use different strings.
const (
	SeedSalt = "hypermark-nostr-keypair-v1"
	SeedInfo = "nostr-secp256k1-seed"
)

// SecretSize is the byte length of the shared symmetric secret.
const SecretSize = 32

var (
	// ErrNotExtractable is returned when the secret refuses to export its raw bytes.
	ErrNotExtractable = errors.New("secret is not extractable")

	// ErrInvalidSeed is returned when the derived seed is not a valid secp256k1 scalar.
	ErrInvalidSeed = errors.New("derived seed is not a valid secp256k1 private key")

	// ErrNoSecret is returned when no secret was supplied.
	ErrNoSecret = errors.New("no secret supplied")

	// ErrInvalidSecret is returned when the exported secret has the wrong size.
	ErrInvalidSecret = errors.New("secret must be 32 bytes")
)

// Secret is the externally-owned symmetric key material. The sync core only
// borrows the raw bytes for the duration of a derivation or cipher call.
type Secret interface {
	ExportRaw() ([]byte, error)
}

// RawSecret is an extractable in-memory secret.
type RawSecret []byte

// ExportRaw returns a copy of the secret bytes.
func (s RawSecret) ExportRaw() ([]byte, error) {
	out := make([]byte, len(s))
	copy(out, s)
	return out, nil
}

type lockedSecret struct{}

func (lockedSecret) ExportRaw() ([]byte, error) { return nil, ErrNotExtractable }

// NonExtractable returns a Secret that refuses export, mirroring a key
// created without the extractable capability.
func NonExtractable() Secret { return lockedSecret{} }

// Keypair is the derived secp256k1 identity. It is a value type: copies are
// independent and nothing mutates it after derivation.
type Keypair struct {
	PrivateKey          [32]byte
	PublicKeyCompressed [33]byte
	PublicKeyXOnly      [32]byte
	Npub                string
	Nsec                string
}

// PublicKeyHex returns the x-only public key as 64 lowercase hex chars, the
// form used in the event pubkey field.
func (k Keypair) PublicKeyHex() string {
	return hex.EncodeToString(k.PublicKeyXOnly[:])
}

// PrivKey returns the btcec private key for signing.
func (k Keypair) PrivKey() *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(k.PrivateKey[:])
	return priv
}

// exportSecret pulls raw bytes out of the secret and enforces the size.
func exportSecret(secret Secret) ([]byte, error) {
	if secret == nil {
		return nil, ErrNoSecret
	}
	raw, err := secret.ExportRaw()
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrap(err, "failed to export secret"),
			"the secret must be created with the extractable capability",
		)
	}
	if len(raw) != SecretSize {
		zero(raw)
		return nil, errors.Wrapf(ErrInvalidSecret, "got %d bytes", len(raw))
	}
	return raw, nil
}

// DeriveSeed runs HKDF-SHA256 over the raw secret with the versioned
// salt/info pair and returns 32 bytes.
func DeriveSeed(secret Secret) ([32]byte, error) {
	var seed [32]byte

	raw, err := exportSecret(secret)
	if err != nil {
		return seed, err
	}
	defer zero(raw)

	r := hkdf.New(sha256.New, raw, []byte(SeedSalt), []byte(SeedInfo))
	if _, err := io.ReadFull(r, seed[:]); err != nil {
		return seed, errors.Wrap(err, "hkdf expand failed")
	}
	return seed, nil
}

// DeriveKeypair derives the deterministic keypair for secret. A seed that is
// zero or not below the curve order is a hard failure: retrying with a
// tweaked seed would silently fork identities across devices.
func DeriveKeypair(secret Secret) (Keypair, error) {
	seed, err := DeriveSeed(secret)
	if err != nil {
		return Keypair{}, err
	}
	return KeypairFromSeed(seed)
}

// KeypairFromSeed builds a Keypair from an already-derived seed.
func KeypairFromSeed(seed [32]byte) (Keypair, error) {
	var scalar btcec.ModNScalar
	if overflow := scalar.SetBytes(&seed); overflow != 0 || scalar.IsZero() {
		return Keypair{}, ErrInvalidSeed
	}

	priv, pub := btcec.PrivKeyFromBytes(seed[:])
	kp := Keypair{PrivateKey: seed}
	copy(kp.PublicKeyCompressed[:], pub.SerializeCompressed())
	copy(kp.PublicKeyXOnly[:], schnorr.SerializePubKey(priv.PubKey()))

	var err error
	if kp.Npub, err = EncodeNpub(kp.PublicKeyXOnly); err != nil {
		return Keypair{}, err
	}
	if kp.Nsec, err = EncodeNsec(kp.PrivateKey); err != nil {
		return Keypair{}, err
	}
	return kp, nil
}

// Fingerprint returns a truncated SHA-256 of the secret bytes, safe to use as
// a cache key or in logs. It never contains the secret itself.
func Fingerprint(secret Secret) (string, error) {
	raw, err := exportSecret(secret)
	if err != nil {
		return "", err
	}
	defer zero(raw)

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8]), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
