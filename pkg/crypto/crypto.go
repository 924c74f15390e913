package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// GenerateToken returns a random URL-safe token of the requested byte length.
func GenerateToken(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("crypto: token length must be positive")
	}
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// HashToken returns the hex encoded SHA-256 digest used to store bearer tokens at rest.
func HashToken(token string) string {
	checksum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(checksum[:])
}

// KeyedHash returns a hex encoded BLAKE2b-256 MAC of value. It is used to
// pseudonymise identifiers such as client IP addresses: equal inputs map to
// equal outputs without the input being recoverable from storage.
func KeyedHash(key []byte, value string) (string, error) {
	if len(key) == 0 {
		return "", errors.New("crypto: hash key is required")
	}
	if len(key) > blake2b.Size {
		key = key[:blake2b.Size]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		return "", err
	}
	_, _ = h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ConstantTimeEqual compares two strings without leaking timing information.
func ConstantTimeEqual(a, b string) bool {
	if a == "" || b == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
