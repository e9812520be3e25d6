// Package auth seals upstream connection passwords at rest and generates the
// secret they are sealed with.
package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealedPrefix = "v1:"

const keyInfo = "wazuhproxy connection password"

// ErrSealedValue is returned when a sealed value is malformed or fails
// authentication.
var ErrSealedValue = errors.New("invalid sealed value")

// GenerateSecret returns a cryptographically random, URL-safe secret string.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Sealer encrypts and decrypts short secrets with XChaCha20-Poly1305 under a
// key derived from a server secret.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from secret via HKDF-SHA256.
func NewSealer(secret string) (*Sealer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("sealing secret is empty")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext and returns a printable sealed value.
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses [Sealer.Seal].
func (s *Sealer) Open(sealed string) (string, error) {
	rest, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return "", ErrSealedValue
	}
	raw, err := base64.RawURLEncoding.DecodeString(rest)
	if err != nil {
		return "", ErrSealedValue
	}
	if len(raw) < s.aead.NonceSize()+s.aead.Overhead() {
		return "", ErrSealedValue
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrSealedValue
	}
	return string(plain), nil
}
