package vault

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

const testSecret = "correct horse battery staple"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(testSecret)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return v
}

func TestNew_NoMasterSecret(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Fatal("New(\"\") expected error, got nil")
	}
	if !errors.Is(err, ErrNoMasterSecret) {
		t.Errorf("New(\"\") error = %v, want %v", err, ErrNoMasterSecret)
	}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	v := newTestVault(t)

	plaintexts := []string{
		"hunter2",
		"sensitive financial data",
		"unicode: préstamo 口座",
		strings.Repeat("x", 4096),
	}

	for _, plaintext := range plaintexts {
		token, err := v.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", plaintext, err)
		}
		if strings.Contains(token, plaintext) {
			t.Errorf("token contains plaintext")
		}

		decrypted, err := v.Decrypt(token)
		if err != nil {
			t.Fatalf("Decrypt() failed: %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
		}
	}
}

func TestEncrypt_TokenFormat(t *testing.T) {
	v := newTestVault(t)

	token, err := v.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments, want 3", len(parts))
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		t.Fatalf("iv segment is not hex: %v", err)
	}
	if len(iv) != nonceSize {
		t.Errorf("iv is %d bytes, want %d", len(iv), nonceSize)
	}

	tag, err := hex.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("tag segment is not hex: %v", err)
	}
	if len(tag) != tagSize {
		t.Errorf("tag is %d bytes, want %d", len(tag), tagSize)
	}

	if token != strings.ToLower(token) {
		t.Error("token is not lowercase hex")
	}
}

func TestEncrypt_EmptyString(t *testing.T) {
	v := newTestVault(t)

	token, err := v.Encrypt("")
	if err != nil {
		t.Fatalf("Encrypt(\"\") failed: %v", err)
	}
	if token != "" {
		t.Errorf("Encrypt(\"\") = %q, want empty token", token)
	}

	plaintext, err := v.Decrypt("")
	if err != nil {
		t.Fatalf("Decrypt(\"\") failed: %v", err)
	}
	if plaintext != "" {
		t.Errorf("Decrypt(\"\") = %q, want empty string", plaintext)
	}
}

func TestEncrypt_UniqueIVs(t *testing.T) {
	v := newTestVault(t)

	a, _ := v.Encrypt("same input")
	b, _ := v.Encrypt("same input")
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical tokens")
	}
}

func TestDecrypt_BitFlip(t *testing.T) {
	v := newTestVault(t)

	token, err := v.Encrypt("tamper target")
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}
	parts := strings.Split(token, ".")

	// Flip one bit in every byte position of the ciphertext and tag
	// segments; every mutation must fail authentication.
	for _, seg := range []int{1, 2} {
		raw, _ := hex.DecodeString(parts[seg])
		for i := range raw {
			mutated := make([]byte, len(raw))
			copy(mutated, raw)
			mutated[i] ^= 0x01

			corrupted := make([]string, 3)
			copy(corrupted, parts)
			corrupted[seg] = hex.EncodeToString(mutated)

			_, err := v.Decrypt(strings.Join(corrupted, "."))
			var integrityErr *IntegrityError
			if !errors.As(err, &integrityErr) {
				t.Fatalf("Decrypt() with bit flip in segment %d byte %d: error = %v, want IntegrityError", seg, i, err)
			}
		}
	}
}

func TestDecrypt_MalformedTokens(t *testing.T) {
	v := newTestVault(t)

	tokens := []string{
		"only-one-segment",
		"two.segments",
		"four.dot.separated.segments",
		"nothex.deadbeef.deadbeef",
		"deadbeef.nothex.deadbeef",
		"deadbeef.deadbeef.nothex",
		"..",
	}

	for _, token := range tokens {
		_, err := v.Decrypt(token)
		var integrityErr *IntegrityError
		if !errors.As(err, &integrityErr) {
			t.Errorf("Decrypt(%q) error = %v, want IntegrityError", token, err)
		}
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	v1 := newTestVault(t)
	v2, err := New("a different master secret")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	token, _ := v1.Encrypt("secret")
	_, err = v2.Decrypt(token)
	var integrityErr *IntegrityError
	if !errors.As(err, &integrityErr) {
		t.Errorf("Decrypt() under wrong key: error = %v, want IntegrityError", err)
	}
}
