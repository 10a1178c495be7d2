package api

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAPIKeyAndVerify(t *testing.T) {
	hash, err := HashAPIKey("reporting-key")
	require.NoError(t, err)
	assert.NotEqual(t, "reporting-key", hash, "key must never be stored plaintext")

	assert.True(t, VerifyAPIKey(hash, "reporting-key"))
	assert.False(t, VerifyAPIKey(hash, "other-key"))
	assert.False(t, VerifyAPIKey(hash, ""))
	assert.False(t, VerifyAPIKey("", "reporting-key"))
}

func TestHashAPIKeyRejectsEmptyKey(t *testing.T) {
	_, err := HashAPIKey("")
	assert.ErrorIs(t, err, ErrKeyEmpty)
}

func TestHashAPIKeyHandlesKeysOverBcryptLimit(t *testing.T) {
	long := strings.Repeat("k", 100)

	hash, err := HashAPIKey(long)
	require.NoError(t, err)

	assert.True(t, VerifyAPIKey(hash, long))
	assert.False(t, VerifyAPIKey(hash, long+"x"))
}

func TestHashAPIKeyProducesUniqueSalts(t *testing.T) {
	first, err := HashAPIKey("reporting-key")
	require.NoError(t, err)

	second, err := HashAPIKey("reporting-key")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "each hash carries a fresh salt")
	assert.True(t, VerifyAPIKey(first, "reporting-key"))
	assert.True(t, VerifyAPIKey(second, "reporting-key"))
}

func TestLoadAPIKeyHash(t *testing.T) {
	t.Setenv(APIKeyHashEnvVar, "")

	_, enabled := LoadAPIKeyHash()
	assert.False(t, enabled)

	t.Setenv(APIKeyHashEnvVar, "$2a$10$somehash")

	hash, enabled := LoadAPIKeyHash()
	assert.True(t, enabled)
	assert.Equal(t, "$2a$10$somehash", hash)
}
