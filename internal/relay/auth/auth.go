// Package auth issues and verifies mailbox API keys.
//
// A key is handed to the agent exactly once, at registration. The relay
// stores only the SHA-256 hex of the key plus a short display prefix, so
// a database leak does not leak credentials.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// KeyPrefix marks mailbox API keys so they are recognizable in logs and
// configuration without being guessable.
const KeyPrefix = "amb_"

// keyBytes is the entropy behind each key; hex-encoded it yields 64 chars.
const keyBytes = 32

// GenerateKey returns a fresh API key of the form amb_<64 hex chars>.
func GenerateKey() (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// HashKey returns the SHA-256 hex digest of a raw API key. This is the
// only form of the key the relay persists or compares against.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the short key prefix stored alongside the hash so
// operators can tell keys apart. Keys shorter than 8 characters never come
// out of GenerateKey; they get an empty prefix.
func DisplayPrefix(key string) string {
	if len(key) < 8 {
		return ""
	}
	return key[:8]
}
