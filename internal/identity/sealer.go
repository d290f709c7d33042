package identity

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const sealedPrefix = "sealed:v1:"

// Argon2id parameters for deriving the key-encryption key.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = chacha20poly1305.KeySize
	saltLen      = 16
)

// Sealer encrypts stored private keys with a passphrase-derived key. A nil or
// empty Sealer passes values through unchanged.
type Sealer struct {
	passphrase []byte
}

// NewSealer returns a Sealer bound to the passphrase.
func NewSealer(passphrase string) *Sealer {
	if passphrase == "" {
		return nil
	}
	return &Sealer{passphrase: []byte(passphrase)}
}

// Seal encrypts plaintext key material.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil {
		return plaintext, nil
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.kek(salt))
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, []byte(plaintext), salt)
	enc := base64.RawStdEncoding
	return sealedPrefix + enc.EncodeToString(salt) + ":" + enc.EncodeToString(nonce) + ":" + enc.EncodeToString(ct), nil
}

// Open decrypts a sealed value. Values without the sealed prefix are returned as-is.
func (s *Sealer) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	if s == nil {
		return "", errors.New("sealed key found but no passphrase configured")
	}
	parts := strings.Split(strings.TrimPrefix(stored, sealedPrefix), ":")
	if len(parts) != 3 {
		return "", ErrInvalidKeyFormat
	}
	enc := base64.RawStdEncoding
	salt, err1 := enc.DecodeString(parts[0])
	nonce, err2 := enc.DecodeString(parts[1])
	ct, err3 := enc.DecodeString(parts[2])
	if err := errors.Join(err1, err2, err3); err != nil {
		return "", ErrInvalidKeyFormat
	}
	aead, err := chacha20poly1305.NewX(s.kek(salt))
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return "", ErrInvalidKeyFormat
	}
	pt, err := aead.Open(nil, nonce, ct, salt)
	if err != nil {
		return "", fmt.Errorf("unseal private key: %w", err)
	}
	return string(pt), nil
}

func (s *Sealer) kek(salt []byte) []byte {
	return argon2.IDKey(s.passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// IsSealed reports whether the stored value was produced by Seal.
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, sealedPrefix)
}
