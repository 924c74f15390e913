package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(32)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	require.Len(t, raw, 32)

	other, err := GenerateToken(32)
	require.NoError(t, err)
	require.NotEqual(t, token, other)

	_, err = GenerateToken(0)
	require.Error(t, err)
}

func TestHashTokenIsStable(t *testing.T) {
	require.Equal(t, HashToken("abc"), HashToken(" abc "))
	require.Len(t, HashToken("abc"), 64)
	require.NotEqual(t, HashToken("abc"), HashToken("abd"))
}

func TestKeyedHash(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	a, err := KeyedHash(key, "10.0.0.1")
	require.NoError(t, err)
	b, err := KeyedHash(key, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := KeyedHash([]byte("another-key-another-key-another!!"), "10.0.0.1")
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	_, err = KeyedHash(nil, "10.0.0.1")
	require.Error(t, err)
}

func TestConstantTimeEqual(t *testing.T) {
	require.True(t, ConstantTimeEqual("token", "token"))
	require.False(t, ConstantTimeEqual("token", "tokem"))
	require.False(t, ConstantTimeEqual("", ""))
}
