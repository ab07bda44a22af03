package identity

import (
	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/teranos/hypermark/errors"
)

const (
	hrpPublic  = "npub"
	hrpPrivate = "nsec"
)

// EncodeNpub encodes an x-only public key as a bech32 npub string.
func EncodeNpub(xonly [32]byte) (string, error) {
	return encode(hrpPublic, xonly[:])
}

// EncodeNsec encodes a private key as a bech32 nsec string.
func EncodeNsec(priv [32]byte) (string, error) {
	return encode(hrpPrivate, priv[:])
}

// DecodeNpub parses an npub string back into the x-only public key.
func DecodeNpub(s string) ([32]byte, error) {
	return decode(hrpPublic, s)
}

// DecodeNsec parses an nsec string back into the private key bytes.
func DecodeNsec(s string) ([32]byte, error) {
	return decode(hrpPrivate, s)
}

func encode(hrp string, data []byte) (string, error) {
	conv, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", errors.Wrapf(err, "failed to convert %s payload", hrp)
	}
	out, err := bech32.Encode(hrp, conv)
	if err != nil {
		return "", errors.Wrapf(err, "failed to encode %s", hrp)
	}
	return out, nil
}

func decode(wantHRP, s string) ([32]byte, error) {
	var out [32]byte

	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return out, errors.Wrapf(err, "invalid bech32 string")
	}
	if hrp != wantHRP {
		return out, errors.Newf("expected %s prefix, got %s", wantHRP, hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return out, errors.Wrapf(err, "failed to convert %s payload", hrp)
	}
	if len(raw) != len(out) {
		return out, errors.Newf("%s payload is %d bytes, want 32", hrp, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
