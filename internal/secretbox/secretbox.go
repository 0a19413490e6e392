// Package secretbox provides authenticated encryption for provider
// credentials at rest. Ciphertexts are AES-256-GCM, encoded as
// base64(nonce)|base64(ciphertext).
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	keyLen    = 32
	nonceLen  = 12
	separator = "|"
)

// ErrDecrypt is returned when a ciphertext cannot be opened with the current
// key. It is distinct from "no data": a vault row that fails to decrypt must
// never be mistaken for a missing one.
var ErrDecrypt = errors.New("secretbox: decrypt failed")

// Box encrypts and decrypts with a fixed key loaded once at startup.
type Box struct {
	aead cipher.AEAD
}

// New builds a Box from a 32-byte key.
func New(key []byte) (*Box, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("secretbox: key must be %d bytes, got %d", keyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secretbox: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secretbox: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (b *Box) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secretbox: nonce: %w", err)
	}
	ct := b.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(nonce) + separator + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt opens an encoded ciphertext. Malformed input and authentication
// failures both surface as ErrDecrypt.
func (b *Box) Decrypt(encoded string) (string, error) {
	noncePart, ctPart, ok := strings.Cut(encoded, separator)
	if !ok {
		return "", ErrDecrypt
	}
	nonce, err := base64.StdEncoding.DecodeString(noncePart)
	if err != nil || len(nonce) != nonceLen {
		return "", ErrDecrypt
	}
	ct, err := base64.StdEncoding.DecodeString(ctPart)
	if err != nil {
		return "", ErrDecrypt
	}
	pt, err := b.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(pt), nil
}
