// Package vault provides authenticated symmetric encryption for secrets at
// rest. Ciphertext is a three-part token "ivHex.cipherHex.tagHex" produced
// with AES-256-GCM; the key is derived once from a configured master secret
// with scrypt.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	nonceSize = 12 // 96-bit IV
	tagSize   = 16 // 128-bit auth tag
	keySize   = 32 // AES-256

	// Application-wide salt for key derivation. The master secret itself is
	// the configured security boundary; the salt only prevents precomputed
	// tables shared across unrelated applications.
	kdfSalt = "bankfeed.credential-vault.v1"

	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// ErrNoMasterSecret is returned when the vault is constructed without a
// master secret. There is no fallback key: startup must fail instead.
var ErrNoMasterSecret = errors.New("vault: master secret is not configured")

// IntegrityError indicates the token could not be authenticated: it is
// malformed, was tampered with, or was encrypted under a different key.
// Decryption is all-or-nothing; no partial plaintext is ever returned.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("vault: integrity failure: %s", e.Reason)
}

// Vault encrypts and decrypts credential strings with a key derived from
// the master secret at construction time.
type Vault struct {
	aead cipher.AEAD
}

// New derives the encryption key from masterSecret and returns a ready
// vault. The derivation is deliberately slow (scrypt) so a leaked ciphertext
// store cannot be brute-forced cheaply against weak master secrets.
func New(masterSecret string) (*Vault, error) {
	if masterSecret == "" {
		return nil, ErrNoMasterSecret
	}

	key, err := scrypt.Key([]byte(masterSecret), []byte(kdfSalt), scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("vault: key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher init failed: %w", err)
	}

	aead, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm init failed: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext into an "ivHex.cipherHex.tagHex" token.
// An empty plaintext encrypts to an empty token.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: nonce generation failed: %w", err)
	}

	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(nonce) + "." + hex.EncodeToString(ciphertext) + "." + hex.EncodeToString(tag), nil
}

// Decrypt opens a token produced by Encrypt. A malformed token or a failed
// authentication check yields an *IntegrityError; there is no other failure
// mode for bad input. An empty token decrypts to an empty string.
func (v *Vault) Decrypt(token string) (string, error) {
	if token == "" {
		return "", nil
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", &IntegrityError{Reason: fmt.Sprintf("expected 3 token segments, got %d", len(parts))}
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", &IntegrityError{Reason: "invalid iv segment"}
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", &IntegrityError{Reason: "invalid ciphertext segment"}
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil || len(tag) != tagSize {
		return "", &IntegrityError{Reason: "invalid auth tag segment"}
	}

	plaintext, err := v.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", &IntegrityError{Reason: "authentication failed"}
	}

	return string(plaintext), nil
}
