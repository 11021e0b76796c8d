package utils

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const encryptedPrefix = "enc:v1:"

// ErrInvalidCiphertext is returned when a stored token cannot be decrypted
var ErrInvalidCiphertext = errors.New("invalid encrypted token")

// TokenCipher seals provider tokens before they are written to the database.
// A cipher without a key is a passthrough.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher creates a cipher for a 32 byte key; a nil key disables encryption
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	if len(key) == 0 {
		return &TokenCipher{}, nil
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cipher: %w", err)
	}

	return &TokenCipher{aead: aead}, nil
}

// Enabled reports whether tokens are encrypted at rest
func (c *TokenCipher) Enabled() bool {
	return c != nil && c.aead != nil
}

// Encrypt seals plaintext. Empty input stays empty.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	if !c.Enabled() || plaintext == "" {
		return plaintext, nil
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encryptedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without the prefix are returned as is
// so rows written before encryption was enabled stay readable.
func (c *TokenCipher) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, encryptedPrefix) {
		return value, nil
	}
	if !c.Enabled() {
		return "", fmt.Errorf("token is encrypted but no key is configured: %w", ErrInvalidCiphertext)
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, encryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode token: %w", ErrInvalidCiphertext)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("token too short: %w", ErrInvalidCiphertext)
	}

	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to open token: %w", ErrInvalidCiphertext)
	}

	return string(plaintext), nil
}
