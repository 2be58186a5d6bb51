package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	sessionCookieName = "labdash_session"
	sessionTokenBytes = 32
	apiKeyBytes       = 32
	apiKeyPrefixLen   = 8
)

// generateSessionToken creates a cryptographically random session token.
func generateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}

	return hex.EncodeToString(b), nil
}

// generateAPIKey creates a new API key, returning the plaintext key, its
// storage hash and its display prefix. The plaintext is only shown once
// at creation time.
func generateAPIKey() (plaintext, hash, prefix string, err error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("generating random bytes: %w", err)
	}

	plaintext = "ldk_" + hex.EncodeToString(b)

	return plaintext, hashAPIKey(plaintext),
		plaintext[:len("ldk_")+apiKeyPrefixLen], nil
}

// hashAPIKey returns the hex encoded SHA-256 digest of an API key.
// Only the digest is persisted.
func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))

	return hex.EncodeToString(sum[:])
}
