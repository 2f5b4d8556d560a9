// Package vault encrypts OAuth tokens at rest.
//
// Ciphertexts are base64(iv || AES-256-GCM(plaintext)) with a 12-byte IV and
// a key derived as SHA-256 of the configured secret, so tokens written by
// earlier deployments remain readable.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

const ivLength = 12

var (
	ErrMissingKey        = errors.New("vault: encryption key is not set")
	ErrInvalidCiphertext = errors.New("vault: invalid encrypted data")
)

// Vault implements scheduler.Vault.
type Vault struct {
	aead cipher.AEAD
}

// New derives the AES key from secret.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, ErrMissingKey
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random IV.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivLength, ivLength+len(plaintext)+v.aead.Overhead())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: read iv: %w", err)
	}
	out := v.aead.Seal(iv, iv, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(raw) <= ivLength {
		return "", ErrInvalidCiphertext
	}
	plain, err := v.aead.Open(nil, raw[:ivLength], raw[ivLength:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return string(plain), nil
}
