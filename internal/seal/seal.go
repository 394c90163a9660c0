// Package seal encrypts small secrets at rest with AES-256-GCM.
//
// Output layout is [nonce][ciphertext+tag]. Callers pass an associated-data
// label (the owning principal id) so a sealed value cannot be replayed
// under another owner.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keyInfo = "authhero/mfa-seed/v1"

// ErrOpen is returned when ciphertext fails authentication.
var ErrOpen = errors.New("seal: cannot open sealed value")

// Sealer holds an AEAD keyed from a master secret.
type Sealer struct {
	aead cipher.AEAD
}

// New derives an AES-256 key from secret with HKDF-SHA256. The secret must
// carry at least 32 bytes.
func New(secret []byte) (*Sealer, error) {
	if len(secret) < 32 {
		return nil, errors.New("seal: secret must be at least 32 bytes")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("seal: deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("seal: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("seal: creating GCM: %w", err)
	}
	return &Sealer{aead: gcm}, nil
}

// Seal encrypts plaintext bound to label.
func (s *Sealer) Seal(plaintext []byte, label string) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("seal: generating nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(label)), nil
}

// Open reverses Seal. It fails with ErrOpen when the value was tampered
// with, sealed under another key, or sealed with another label.
func (s *Sealer) Open(sealed []byte, label string) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, ErrOpen
	}
	plaintext, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(label))
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}
