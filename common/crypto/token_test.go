package crypto_test

import (
	"strings"
	"testing"

	"github.com/dudu1111685/openclawMail/common/crypto"
)

func TestEncryptContent_Roundtrip(t *testing.T) {
	key := makeKey(t)
	plaintext := "hello from agent alice"

	token, err := crypto.EncryptContent(key, plaintext)
	if err != nil {
		t.Fatalf("EncryptContent: %v", err)
	}

	if !strings.HasPrefix(token, crypto.TokenPrefix) {
		t.Errorf("token %q missing version prefix %q", token, crypto.TokenPrefix)
	}
	if token == plaintext {
		t.Error("token should not equal plaintext")
	}

	if got := crypto.DecryptContent(key, token); got != plaintext {
		t.Errorf("DecryptContent: got %q, want %q", got, plaintext)
	}
}

func TestDecryptContent_LegacyPlaintextPassthrough(t *testing.T) {
	key := makeKey(t)

	cases := []struct {
		name  string
		input string
	}{
		{"plain text", "a message stored before encryption was enabled"},
		{"empty", ""},
		{"prefix-like but bad base64", "amb1:!!!not-base64!!!"},
		{"prefix with truncated ciphertext", "amb1:AAAA"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := crypto.DecryptContent(key, tc.input); got != tc.input {
				t.Errorf("got %q, want input unchanged %q", got, tc.input)
			}
		})
	}
}

func TestDecryptContent_WrongKeyReturnsInput(t *testing.T) {
	key1 := makeKey(t)
	key2 := make([]byte, crypto.KeySize)
	for i := range key2 {
		key2[i] = byte(i + 7)
	}

	token, err := crypto.EncryptContent(key1, "secret body")
	if err != nil {
		t.Fatalf("EncryptContent: %v", err)
	}

	// MAC failure must fall back to returning the stored value untouched.
	if got := crypto.DecryptContent(key2, token); got != token {
		t.Errorf("got %q, want token unchanged", got)
	}
}

func TestEncryptContent_NonDeterministicTokens(t *testing.T) {
	key := makeKey(t)

	t1, err := crypto.EncryptContent(key, "same body")
	if err != nil {
		t.Fatalf("first EncryptContent: %v", err)
	}
	t2, err := crypto.EncryptContent(key, "same body")
	if err != nil {
		t.Fatalf("second EncryptContent: %v", err)
	}

	if t1 == t2 {
		t.Error("two tokens for the same plaintext are identical (nonce not random)")
	}
}

func TestGenerateMasterKey(t *testing.T) {
	raw, err := crypto.GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey: %v", err)
	}
	if len(raw) != crypto.KeySize*2 {
		t.Fatalf("key length: got %d, want %d", len(raw), crypto.KeySize*2)
	}

	key, err := crypto.ParseMasterKey(raw)
	if err != nil {
		t.Fatalf("ParseMasterKey on generated key: %v", err)
	}
	if len(key) != crypto.KeySize {
		t.Errorf("parsed key length: got %d, want %d", len(key), crypto.KeySize)
	}
}

func TestParseMasterKey_Invalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"not hex", "zz" + strings.Repeat("00", 31)},
		{"too short", "deadbeef"},
		{"too long", strings.Repeat("ab", 33)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := crypto.ParseMasterKey(tc.raw); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}
