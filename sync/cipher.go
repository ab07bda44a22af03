package sync

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/teranos/hypermark/errors"
	"github.com/teranos/hypermark/identity"
)

var (
	// ErrDecrypt is returned when AES-GCM authentication fails.
	ErrDecrypt = errors.New("failed to decrypt content")

	// ErrContentFormat is returned when content is not iv:ciphertext in base64.
	ErrContentFormat = errors.New("content must be base64(iv):base64(ciphertext)")
)

const ivSize = 12

func newGCM(secret identity.Secret) (cipher.AEAD, error) {
	if secret == nil {
		return nil, identity.ErrNoSecret
	}
	key, err := secret.ExportRaw()
	if err != nil {
		return nil, errors.Wrap(err, "failed to export content key")
	}
	defer clear(key)

	if len(key) != identity.SecretSize {
		return nil, errors.Wrapf(identity.ErrInvalidSecret, "got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create AES cipher")
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with AES-256-GCM under secret using a fresh random
// IV and returns base64(iv):base64(ciphertext).
func Encrypt(secret identity.Secret, plaintext []byte) (string, error) {
	gcm, err := newGCM(secret)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", errors.Wrap(err, "failed to generate IV")
	}
	ct := gcm.Seal(nil, iv, plaintext, nil)

	return base64.StdEncoding.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt. Any tampering with the IV or ciphertext yields
// ErrDecrypt.
func Decrypt(secret identity.Secret, content string) ([]byte, error) {
	parts := strings.Split(content, ":")
	if len(parts) != 2 {
		return nil, errors.Wrapf(ErrContentFormat, "found %d parts", len(parts))
	}
	iv, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "iv"), ErrContentFormat)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "ciphertext"), ErrContentFormat)
	}
	if len(iv) != ivSize {
		return nil, errors.Wrapf(ErrContentFormat, "iv is %d bytes", len(iv))
	}

	gcm, err := newGCM(secret)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, iv, ct, nil)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "authentication failed"), ErrDecrypt)
	}
	return plaintext, nil
}
