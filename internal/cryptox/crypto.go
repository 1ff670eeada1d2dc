// Package cryptox seals secrets kept in the pricesync config file, such as
// the remote database password, with a passphrase-derived key.
//
// The key is derived with Argon2id and the secret is encrypted with AES-GCM.
// A sealed value is a printable string:
//
//	v1.<base64 salt>.<base64 nonce>.<base64 ciphertext>
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/quyen-luc/prices-app/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	sealedPrefix = "v1"
	saltSize     = 16
)

// ErrMalformedSealed is returned when a sealed string cannot be parsed.
var ErrMalformedSealed = errors.New("malformed sealed value")

// DeriveKey stretches passphrase into a 32-byte AES-256 key.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

// Seal encrypts secret with a key derived from passphrase and a fresh salt.
func Seal(secret, passphrase []byte) (string, error) {
	salt := common.GenerateRandByteArray(saltSize)
	key := DeriveKey(passphrase, salt)
	defer common.WipeByteArray(key)

	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := common.GenerateRandByteArray(aead.NonceSize())
	ciphertext := aead.Seal(nil, nonce, secret, []byte(sealedPrefix))

	enc := base64.RawStdEncoding
	return strings.Join([]string{
		sealedPrefix,
		enc.EncodeToString(salt),
		enc.EncodeToString(nonce),
		enc.EncodeToString(ciphertext),
	}, "."), nil
}

// Open reverses Seal. A wrong passphrase fails authentication.
func Open(sealed string, passphrase []byte) ([]byte, error) {
	parts := strings.Split(sealed, ".")
	if len(parts) != 4 || parts[0] != sealedPrefix {
		return nil, ErrMalformedSealed
	}

	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: salt: %v", ErrMalformedSealed, err)
	}
	nonce, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrMalformedSealed, err)
	}
	ciphertext, err := enc.DecodeString(parts[3])
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformedSealed, err)
	}

	key := DeriveKey(passphrase, salt)
	defer common.WipeByteArray(key)

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce size %d", ErrMalformedSealed, len(nonce))
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(sealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("open sealed value: %w", err)
	}
	return plaintext, nil
}

// IsSealed reports whether s looks like a value produced by Seal.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, sealedPrefix+".") && strings.Count(s, ".") == 3
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}
