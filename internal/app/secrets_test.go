package app

import (
	"strings"
	"testing"
)

func TestApplyRuntimeDefaultsGeneratesMissingSecrets(t *testing.T) {
	cfg := &Config{}

	generated, err := ApplyRuntimeDefaults(cfg)
	if err != nil {
		t.Fatalf("ApplyRuntimeDefaults returned error: %v", err)
	}

	if cfg.Auth.JWT.Secret == "" {
		t.Fatal("expected JWT secret to be generated")
	}
	if len(cfg.Auth.IPHashKey) != ipHashKeyBytes*2 {
		t.Fatalf("expected hex ip hash key, got %q", cfg.Auth.IPHashKey)
	}
	if !generated["auth.jwt.secret"] || !generated["auth.ip_hash_key"] {
		t.Fatalf("expected generated map to include both secrets: %#v", generated)
	}
}

func TestApplyRuntimeDefaultsPreservesExistingSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.JWT.Secret = strings.Repeat("a", 10)
	cfg.Auth.IPHashKey = strings.Repeat("b", 10)

	generated, err := ApplyRuntimeDefaults(cfg)
	if err != nil {
		t.Fatalf("ApplyRuntimeDefaults returned error: %v", err)
	}

	if len(generated) != 0 {
		t.Fatalf("expected no keys generated, got %#v", generated)
	}
	if cfg.Auth.IPHashKey != strings.Repeat("b", 10) {
		t.Fatalf("ip hash key was overwritten: %q", cfg.Auth.IPHashKey)
	}
}

func TestApplyRuntimeDefaultsNilConfig(t *testing.T) {
	_, err := ApplyRuntimeDefaults(nil)
	if err == nil || !strings.Contains(err.Error(), "config is nil") {
		t.Fatalf("expected nil config error, got %v", err)
	}
}

func TestGenerateHexKey(t *testing.T) {
	key, err := generateHexKey(4)
	if err != nil {
		t.Fatalf("generateHexKey returned error: %v", err)
	}
	if len(key) != 8 {
		t.Fatalf("expected encoded length 8, got %d", len(key))
	}

	if _, err = generateHexKey(0); err == nil {
		t.Fatal("expected error when length <= 0")
	}
}

func TestDecodeKey(t *testing.T) {
	hexKey, err := DecodeKey("00ff10")
	if err != nil || len(hexKey) != 3 || hexKey[1] != 0xff {
		t.Fatalf("hex decode failed: %v %v", hexKey, err)
	}

	b64, err := DecodeKey("aGVsbG8=")
	if err != nil || string(b64) != "hello" {
		t.Fatalf("base64 decode failed: %q %v", b64, err)
	}

	raw, err := DecodeKey("not base64!")
	if err != nil || string(raw) != "not base64!" {
		t.Fatalf("raw fallback failed: %q %v", raw, err)
	}

	if _, err := DecodeKey("  "); err == nil {
		t.Fatal("expected error for empty key")
	}
}
