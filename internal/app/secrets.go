package app

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	jwtSecretBytes = 48
	ipHashKeyBytes = 32
)

// runtimeSecret is a secret that may be generated when left unconfigured.
type runtimeSecret struct {
	key   string
	bytes int
	field func(*Config) *string
}

var runtimeSecrets = []runtimeSecret{
	{key: "auth.jwt.secret", bytes: jwtSecretBytes, field: func(c *Config) *string { return &c.Auth.JWT.Secret }},
	{key: "auth.ip_hash_key", bytes: ipHashKeyBytes, field: func(c *Config) *string { return &c.Auth.IPHashKey }},
}

// ApplyRuntimeDefaults fills empty secrets with random hex keys and reports
// which keys it generated, never their values. Generated secrets do not
// survive a restart: every session ends and new IP hashes stop matching old
// ones.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	generated := make(map[string]bool)
	for _, secret := range runtimeSecrets {
		value := secret.field(cfg)
		if strings.TrimSpace(*value) != "" {
			continue
		}
		key, err := generateHexKey(secret.bytes)
		if err != nil {
			return nil, fmt.Errorf("generate %s: %w", secret.key, err)
		}
		*value = key
		generated[secret.key] = true
	}
	return generated, nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

var keyDecoders = []func(string) ([]byte, error){
	func(v string) ([]byte, error) {
		if len(v)%2 != 0 {
			return nil, hex.ErrLength
		}
		return hex.DecodeString(v)
	},
	base64.StdEncoding.DecodeString,
	base64.RawStdEncoding.DecodeString,
}

// DecodeKey turns a configured secret into raw bytes. Hex wins because
// generated keys are hex; base64 is accepted for operator-supplied keys and
// anything else is used verbatim.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, errors.New("key value is empty")
	}
	for _, decode := range keyDecoders {
		if decoded, err := decode(v); err == nil {
			return decoded, nil
		}
	}
	return []byte(v), nil
}
