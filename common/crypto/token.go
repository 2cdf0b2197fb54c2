package crypto

import (
	"encoding/base64"
	"strings"
)

// TokenPrefix is the version tag prepended to every encrypted content token.
// Bumping the format (new cipher, new layout) means a new prefix; decryption
// dispatches on the prefix so old rows stay readable.
const TokenPrefix = "amb1:"

// EncryptContent encrypts a message body for storage at rest and returns a
// self-describing token: "amb1:" + base64(nonce || ciphertext || tag).
func EncryptContent(key []byte, plaintext string) (string, error) {
	ciphertext, err := Encrypt(key, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return TokenPrefix + base64.RawStdEncoding.EncodeToString(ciphertext), nil
}

// DecryptContent reverses EncryptContent. Inputs that are not well-formed
// tokens (wrong prefix, bad base64, truncated ciphertext, MAC failure) are
// returned unchanged: rows written before encryption was enabled must remain
// readable.
func DecryptContent(key []byte, stored string) string {
	raw, ok := strings.CutPrefix(stored, TokenPrefix)
	if !ok {
		return stored
	}

	ciphertext, err := base64.RawStdEncoding.DecodeString(raw)
	if err != nil {
		return stored
	}

	plaintext, err := Decrypt(key, ciphertext)
	if err != nil {
		return stored
	}

	return string(plaintext)
}
