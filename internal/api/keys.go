package api

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/starforge-io/starforge/internal/config"
)

const (
	// bcryptCost defines the computational cost for bcrypt hashing.
	// Cost 10 = ~60ms per hash, slow enough to blunt brute force attempts.
	bcryptCost  = 10
	bcryptLimit = 72
)

// APIKeyHashEnvVar holds the bcrypt hash of the reporting API key. Empty
// disables authentication.
const APIKeyHashEnvVar = "STARFORGE_API_KEY_HASH" // pragma: allowlist secret

// ErrKeyEmpty is returned when hashing an empty API key.
var ErrKeyEmpty = errors.New("api key cannot be empty")

// HashAPIKey generates a bcrypt hash of the API key for storage. The key is
// never stored in plaintext.
//
// Bcrypt has a 72-byte input limit; longer keys are pre-hashed with SHA-256
// so arbitrary key lengths behave consistently.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrKeyEmpty
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(apiKey), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}

	return string(hash), nil
}

// VerifyAPIKey performs constant-time comparison of an API key against its
// bcrypt hash. Returns false for any error condition.
func VerifyAPIKey(hash, apiKey string) bool {
	if hash == "" || apiKey == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(apiKey)) == nil
}

// LoadAPIKeyHash reads the configured key hash from the environment.
// Returns enabled=false when authentication is not configured.
func LoadAPIKeyHash() (string, bool) {
	hash := config.GetEnvStr(APIKeyHashEnvVar, "")

	return hash, hash != ""
}

// bcryptInput prepares a key for bcrypt, pre-hashing keys over the 72-byte
// limit with SHA-256.
func bcryptInput(apiKey string) []byte {
	if len(apiKey) > bcryptLimit {
		sum := sha256.Sum256([]byte(apiKey))

		return sum[:]
	}

	return []byte(apiKey)
}
