package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	// RefreshSecretBytes is the entropy of refresh secrets.
	RefreshSecretBytes = 40
	// OneTimeSecretBytes is the entropy of verification and reset tokens.
	OneTimeSecretBytes = 36
	// BackupCodeBytes is the entropy of one MFA backup code.
	BackupCodeBytes = 4
)

// NewOpaqueSecret returns n random bytes, hex encoded.
func NewOpaqueSecret(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("secret size must be positive")
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// HashOpaqueSecret returns the hex SHA-256 digest used to store and look up
// a secret. Only the digest ever reaches storage.
func HashOpaqueSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// HashBackupCode digests an MFA backup code salted with the owning
// principal id, so equal codes of different principals never share a
// digest. The code is trimmed and lowercased first.
func HashBackupCode(principalID, code string) string {
	return HashOpaqueSecret(principalID + ":" + strings.ToLower(strings.TrimSpace(code)))
}
